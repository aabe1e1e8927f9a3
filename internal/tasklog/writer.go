package tasklog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// doneSentinelFormat is the literal line contract from spec.md §6 — the last
// line a reader will ever see for a finalized task.
const doneSentinelFormat = "\n---HAL9999-DONE exit=%d---\n"

// Writer owns one task's append-only log file and JSONL event file. Exactly
// one Writer exists per task (spec.md §5: "exactly one writer to each
// per-task log file and each per-task event file").
type Writer struct {
	taskID string

	logMu  sync.Mutex
	logF   *os.File
	sealed atomic.Bool

	eventMu sync.Mutex
	eventF  *os.File
	seq     int64
}

// Open creates (if absent) and opens for appending the per-task log and
// event files under dataDir/{logs,events}/<taskId>.{log,jsonl}. Reopening
// a task's existing files keeps their contents and continues seq after
// the events already written.
func Open(dataDir, taskID string) (*Writer, error) {
	logDir := filepath.Join(dataDir, "logs")
	eventDir := filepath.Join(dataDir, "events")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(eventDir, 0755); err != nil {
		return nil, err
	}

	logF, err := os.OpenFile(filepath.Join(logDir, taskID+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("tasklog: open log file: %w", err)
	}
	eventF, err := os.OpenFile(filepath.Join(eventDir, taskID+".jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logF.Close()
		return nil, fmt.Errorf("tasklog: open event file: %w", err)
	}

	var seq int64
	if data, err := os.ReadFile(filepath.Join(eventDir, taskID+".jsonl")); err == nil {
		seq = int64(bytes.Count(data, []byte{'\n'}))
	}

	return &Writer{taskID: taskID, logF: logF, eventF: eventF, seq: seq}, nil
}

// Close closes both underlying files.
func (w *Writer) Close() error {
	w.logMu.Lock()
	err1 := w.logF.Close()
	w.logMu.Unlock()

	w.eventMu.Lock()
	err2 := w.eventF.Close()
	w.eventMu.Unlock()

	if err1 != nil {
		return err1
	}
	return err2
}

// AppendOutput appends raw agent output bytes to the log file (the poll
// phase's delta fetch writes through here) and emits a matching "output"
// event.
func (w *Writer) AppendOutput(stream Stream, text string) error {
	w.logMu.Lock()
	_, err := w.logF.WriteString(text)
	w.logMu.Unlock()
	if err != nil {
		return fmt.Errorf("tasklog: append output: %w", err)
	}
	return w.Emit(Event{Type: EventOutput, Stream: stream, Text: text})
}

// Seal writes the terminal sentinel line. Safe to call at most once per
// task (P6); a second call is a no-op.
func (w *Writer) Seal(exitCode int) error {
	if !w.sealed.CompareAndSwap(false, true) {
		return nil
	}
	w.logMu.Lock()
	defer w.logMu.Unlock()
	_, err := fmt.Fprintf(w.logF, doneSentinelFormat, exitCode)
	return err
}

// Emit appends one event envelope, stamping a strictly-increasing seq (P5)
// and the current UTC timestamp.
func (w *Writer) Emit(ev Event) error {
	w.eventMu.Lock()
	defer w.eventMu.Unlock()

	seq := w.seq
	w.seq++

	env := Envelope{
		TaskID:    w.taskID,
		Timestamp: time.Now().UTC(),
		Seq:       seq,
		Event:     ev,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("tasklog: marshal event: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.eventF.Write(data); err != nil {
		return fmt.Errorf("tasklog: append event: %w", err)
	}
	return nil
}
