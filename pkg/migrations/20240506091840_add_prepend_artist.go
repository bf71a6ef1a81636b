package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`ALTER TABLE releases ADD COLUMN prepend_artist BOOLEAN`)
		if err != nil {
			return errors.WithStack(err)
		}

		// Bundled single-track releases are suppressed at upsert time now;
		// clean out rows ingested before that rule existed.
		_, err = db.Exec(`DELETE FROM releases WHERE release_type = 'TrackRelease'`)
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`ALTER TABLE releases DROP COLUMN prepend_artist`)
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
