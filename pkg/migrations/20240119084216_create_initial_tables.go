package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		// Every delivery document we have seen, deduped by URL.
		_, err := db.Exec(`
			CREATE TABLE xmls (
				xml_url TEXT PRIMARY KEY,
				source TEXT NOT NULL,
				message_timestamp TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}

		// Catalog users that have authorized a source, used for artist matching.
		_, err = db.Exec(`
			CREATE TABLE users (
				api_key TEXT NOT NULL,
				id TEXT NOT NULL,
				handle TEXT NOT NULL,
				name TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (api_key, id)
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`
			CREATE TABLE releases (
				key TEXT PRIMARY KEY,
				source TEXT NOT NULL,
				ref TEXT,
				xml_url TEXT,
				message_timestamp TEXT,
				release_type TEXT,
				release_date TEXT,
				payload TEXT,
				status TEXT NOT NULL,

				entity_type TEXT,
				entity_id TEXT,
				block_hash TEXT,
				block_number INTEGER,
				published_at TIMESTAMPTZ,

				publish_error_count INTEGER NOT NULL DEFAULT 0,
				last_publish_error TEXT,

				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`CREATE INDEX ix_releases_status ON releases(status)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_releases_source ON releases(source)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_releases_message_timestamp ON releases(message_timestamp)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_releases_release_date ON releases(release_date)`)
		if err != nil {
			return errors.WithStack(err)
		}

		// Where a resource file physically lived the last time it was
		// referenced. Survives incremental updates that omit resource lists.
		_, err = db.Exec(`
			CREATE TABLE assets (
				source TEXT NOT NULL,
				release_id TEXT NOT NULL,
				ref TEXT NOT NULL,
				xml_url TEXT NOT NULL,
				file_path TEXT NOT NULL,
				file_name TEXT NOT NULL,
				PRIMARY KEY (source, release_id, ref)
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`
			CREATE TABLE bucket_cursors (
				bucket TEXT PRIMARY KEY,
				marker TEXT NOT NULL
			)
		`)
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		for _, stmt := range []string{
			`DROP TABLE IF EXISTS bucket_cursors`,
			`DROP TABLE IF EXISTS assets`,
			`DROP INDEX IF EXISTS ix_releases_release_date`,
			`DROP INDEX IF EXISTS ix_releases_message_timestamp`,
			`DROP INDEX IF EXISTS ix_releases_source`,
			`DROP INDEX IF EXISTS ix_releases_status`,
			`DROP TABLE IF EXISTS releases`,
			`DROP TABLE IF EXISTS users`,
			`DROP TABLE IF EXISTS xmls`,
		} {
			if _, err := db.Exec(stmt); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}
