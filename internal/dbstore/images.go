package dbstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samueljseay/hal9999/internal/domain"
	"github.com/samueljseay/hal9999/internal/herrors"
)

const imageColumns = `id, provider, snapshot_id, label, created_at`

func scanImage(row interface{ Scan(...any) error }) (*domain.Image, error) {
	var img domain.Image
	if err := row.Scan(&img.ID, &img.Provider, &img.SnapshotID, &img.Label, &img.CreatedAt); err != nil {
		return nil, err
	}
	return &img, nil
}

// CreateImage records a known provider snapshot/image reference.
func (s *SQLStore) CreateImage(ctx context.Context, img *domain.Image) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO images (`+imageColumns+`) VALUES (?,?,?,?,?)`,
		img.ID, img.Provider, img.SnapshotID, img.Label, img.CreatedAt)
	if err != nil {
		return fmt.Errorf("dbstore: create image %s: %w", img.ID, err)
	}
	return nil
}

// GetImage fetches an image reference by id.
func (s *SQLStore) GetImage(ctx context.Context, id string) (*domain.Image, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM images WHERE id = ?`, id)
	img, err := scanImage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, herrors.Wrap(herrors.ErrRowNotFound, "image %s not found", id)
		}
		return nil, err
	}
	return img, nil
}

// ListImages returns every recorded image reference.
func (s *SQLStore) ListImages(ctx context.Context) ([]*domain.Image, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+imageColumns+` FROM images`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

// DeleteImage removes an image reference.
func (s *SQLStore) DeleteImage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id)
	return err
}
