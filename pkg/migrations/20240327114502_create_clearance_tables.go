package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		// Per-track clearance verdicts supplied by the external rights feed.
		_, err := db.Exec(`
			CREATE TABLE clearance (
				release_id TEXT NOT NULL,
				track_id TEXT NOT NULL,
				is_matched BOOLEAN,
				is_cleared BOOLEAN,
				PRIMARY KEY (release_id, track_id)
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}

		// Small key/value table for feed bookmarks and generated secrets.
		_, err = db.Exec(`
			CREATE TABLE kv (
				key TEXT PRIMARY KEY,
				val TEXT NOT NULL
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`ALTER TABLE releases ADD COLUMN num_cleared INTEGER`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`ALTER TABLE releases ADD COLUMN num_not_cleared INTEGER`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_releases_num_cleared ON releases(num_cleared)`)
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		for _, stmt := range []string{
			`DROP INDEX IF EXISTS ix_releases_num_cleared`,
			`ALTER TABLE releases DROP COLUMN num_not_cleared`,
			`ALTER TABLE releases DROP COLUMN num_cleared`,
			`DROP TABLE IF EXISTS kv`,
			`DROP TABLE IF EXISTS clearance`,
		} {
			if _, err := db.Exec(stmt); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}
