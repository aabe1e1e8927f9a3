// Package artifacts is the blob half of component A: a bbolt-backed archive
// for the large, write-once-read-rarely outputs a task produces (the full
// output.log capture, diff.patch, plan.md). Directly adapted from
// cuemby-warren/pkg/storage.BoltStore's NewBoltStore/bucket-per-resource
// layout, repurposed from the relational rows (now in internal/dbstore)
// to blob storage keyed by task id.
package artifacts

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	bolt "go.etcd.io/bbolt"
)

// compressThreshold is the size at or above which a blob is gzipped before
// storage; large agent logs compress well and this keeps the bbolt file
// small.
const compressThreshold = 4096

var (
	bucketLogs  = []byte("logs")
	bucketDiffs = []byte("diffs")
	bucketPlans = []byte("plans")
)

// Store is the durable artifact archive, one bbolt file for the process.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the artifact archive at dataDir/artifacts.db.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "artifacts.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("artifacts: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketLogs, bucketDiffs, bucketPlans} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("artifacts: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying bbolt file.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutLog archives a task's full output.log capture.
func (s *Store) PutLog(taskID string, data []byte) error {
	return s.put(bucketLogs, taskID, data)
}

// GetLog retrieves a task's archived output.log capture.
func (s *Store) GetLog(taskID string) ([]byte, error) {
	return s.get(bucketLogs, taskID)
}

// PutDiff archives a task's diff.patch.
func (s *Store) PutDiff(taskID string, data []byte) error {
	return s.put(bucketDiffs, taskID, data)
}

// GetDiff retrieves a task's archived diff.patch.
func (s *Store) GetDiff(taskID string) ([]byte, error) {
	return s.get(bucketDiffs, taskID)
}

// PutPlan archives a task's plan.md (plan-first mode only).
func (s *Store) PutPlan(taskID string, data []byte) error {
	return s.put(bucketPlans, taskID, data)
}

// GetPlan retrieves a task's archived plan.md, if one was written.
func (s *Store) GetPlan(taskID string) ([]byte, error) {
	return s.get(bucketPlans, taskID)
}

func (s *Store) put(bucket []byte, key string, data []byte) error {
	encoded, compressed, err := maybeCompress(data)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		flag := byte(0)
		if compressed {
			flag = 1
		}
		return b.Put([]byte(key), append([]byte{flag}, encoded...))
	})
}

func (s *Store) get(bucket []byte, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		raw := b.Get([]byte(key))
		if raw == nil {
			return fmt.Errorf("artifacts: %s/%s not found", bucket, key)
		}
		if len(raw) == 0 {
			return nil
		}
		flag, payload := raw[0], raw[1:]
		cp := make([]byte, len(payload))
		copy(cp, payload)
		if flag == 1 {
			decoded, err := decompress(cp)
			if err != nil {
				return err
			}
			out = decoded
			return nil
		}
		out = cp
		return nil
	})
	return out, err
}

func maybeCompress(data []byte) ([]byte, bool, error) {
	if len(data) < compressThreshold {
		return data, false, nil
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, false, err
	}
	if err := gw.Close(); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), true, nil
}

func decompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return io.ReadAll(gr)
}
