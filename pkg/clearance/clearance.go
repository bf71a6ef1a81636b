// Package clearance stores per-track rights verdicts from the external
// clearance feed and rolls them up onto release rows.
package clearance

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tonefeed/ddexd/pkg/kv"
	"github.com/uptrace/bun"
)

type Clearance struct {
	bun.BaseModel `bun:"table:clearance,alias:cl"`

	ReleaseID string `bun:"release_id,pk" json:"release_id"`
	TrackID   string `bun:"track_id,pk" json:"track_id"`
	IsMatched bool   `bun:"is_matched" json:"is_matched"`
	IsCleared bool   `bun:"is_cleared" json:"is_cleared"`
}

type Service struct {
	db *bun.DB
	kv *kv.Service
}

func NewService(db *bun.DB) *Service {
	return &Service{db: db, kv: kv.NewService(db)}
}

func (svc *Service) Upsert(ctx context.Context, c *Clearance) error {
	_, err := svc.db.
		NewInsert().
		Model(c).
		On("CONFLICT (release_id, track_id) DO UPDATE").
		Set("is_matched = EXCLUDED.is_matched").
		Set("is_cleared = EXCLUDED.is_cleared").
		Exec(ctx)
	return errors.WithStack(err)
}

// ListForRelease returns track id -> cleared verdict for one release.
func (svc *Service) ListForRelease(ctx context.Context, releaseID string) (map[string]bool, error) {
	var rows []*Clearance
	err := svc.db.NewSelect().Model(&rows).Where("release_id = ?", releaseID).Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	out := map[string]bool{}
	for _, row := range rows {
		out[row.TrackID] = row.IsCleared
	}
	return out, nil
}

// UpdateCounts rolls the per-track verdicts up into the num_cleared and
// num_not_cleared columns on releases.
func (svc *Service) UpdateCounts(ctx context.Context) error {
	_, err := svc.db.ExecContext(ctx, `
		WITH clear_count AS (
			SELECT
				release_id,
				SUM(CASE WHEN is_cleared THEN 1 ELSE 0 END) AS cleared,
				SUM(CASE WHEN is_cleared THEN 0 ELSE 1 END) AS not_cleared
			FROM clearance
			GROUP BY 1
		)
		UPDATE releases
		SET num_cleared = clear_count.cleared,
		    num_not_cleared = clear_count.not_cleared
		FROM clear_count
		WHERE releases.key = clear_count.release_id
	`)
	return errors.WithStack(err)
}
