package worker

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tonefeed/ddexd/pkg/clearance"
	"github.com/tonefeed/ddexd/pkg/config"
	"github.com/tonefeed/ddexd/pkg/cursors"
	"github.com/tonefeed/ddexd/pkg/ddex"
	"github.com/tonefeed/ddexd/pkg/migrations"
	"github.com/tonefeed/ddexd/pkg/poller"
	"github.com/tonefeed/ddexd/pkg/releases"
	"github.com/tonefeed/ddexd/pkg/sources"
	"github.com/tonefeed/ddexd/pkg/storage"
	"github.com/tonefeed/ddexd/pkg/xmls"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)

	// Both loops hit the database concurrently; a single connection keeps
	// them on the same in-memory instance.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func testRegistry(t *testing.T) *sources.Registry {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`sources:
  - name: vydia
    bucket: vydia-deliveries
    api_key: vydia-key
`), 0o644))

	registry, err := sources.Load(path)
	require.NoError(t, err)
	return registry
}

func TestWorkerPollsAndShutsDown(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	fixture, err := os.ReadFile(filepath.Join("..", "ddex", "testdata", "single_ern38.xml"))
	require.NoError(t, err)

	path := filepath.Join(root, "vydia-deliveries", "20240301T100000", "release.xml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, fixture, 0o644))

	db := setupTestDB(t)
	registry := testRegistry(t)
	rel := releases.NewService(db)
	store := storage.NewFSStore(root)
	pollerService := poller.New(
		store,
		registry,
		ddex.NewParser(registry, nil),
		rel,
		xmls.NewService(db),
		cursors.NewService(db),
		nil,
	)

	cfg := &config.Config{
		PollInterval:    10 * time.Millisecond,
		PublishInterval: 10 * time.Millisecond,
	}

	wrkr := New(cfg, store, pollerService, nil, clearance.NewService(db))
	wrkr.Start()

	require.Eventually(t, func() bool {
		_, err := rel.Retrieve(context.Background(), releases.RetrieveOptions{
			Key: pointerutil.String("US1234567890"),
		})
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		wrkr.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not shut down")
	}

	row, err := rel.Retrieve(context.Background(), releases.RetrieveOptions{
		Key: pointerutil.String("US1234567890"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Neon Skyline", row.Parsed.Title)
}
