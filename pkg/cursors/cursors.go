// Package cursors persists the per-bucket listing marker the poller resumes
// from. A cursor only ever moves forward, and only after the batch behind it
// has fully processed.
package cursors

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type Cursor struct {
	bun.BaseModel `bun:"table:bucket_cursors,alias:bc"`

	Bucket string `bun:"bucket,pk" json:"bucket"`
	Marker string `bun:"marker" json:"marker"`
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// Get returns the stored marker for a bucket, or "" when the bucket has
// never been polled.
func (svc *Service) Get(ctx context.Context, bucket string) (string, error) {
	cursor := &Cursor{}
	err := svc.db.NewSelect().Model(cursor).Where("bucket = ?", bucket).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.WithStack(err)
	}
	return cursor.Marker, nil
}

func (svc *Service) Set(ctx context.Context, bucket, marker string) error {
	_, err := svc.db.
		NewInsert().
		Model(&Cursor{Bucket: bucket, Marker: marker}).
		On("CONFLICT (bucket) DO UPDATE").
		Set("marker = EXCLUDED.marker").
		Exec(ctx)
	return errors.WithStack(err)
}

// Clear removes the marker so the next poll restarts from the beginning of
// the bucket.
func (svc *Service) Clear(ctx context.Context, bucket string) error {
	_, err := svc.db.NewDelete().Model((*Cursor)(nil)).Where("bucket = ?", bucket).Exec(ctx)
	return errors.WithStack(err)
}
