package clearance

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/robinjoseph08/golib/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tonefeed/ddexd/pkg/migrations"
	"github.com/tonefeed/ddexd/pkg/storage"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func testContext() context.Context {
	return logger.New().WithContext(context.Background())
}

func seedRelease(t *testing.T, db *bun.DB, key string) {
	t.Helper()
	_, err := db.ExecContext(testContext(), `
		INSERT INTO releases (key, source, status) VALUES (?, 'vydia', 'PublishPending')
	`, key)
	require.NoError(t, err)
}

func TestUpsertAndListForRelease(t *testing.T) {
	t.Parallel()

	ctx := testContext()
	svc := NewService(setupTestDB(t))

	require.NoError(t, svc.Upsert(ctx, &Clearance{ReleaseID: "US1234567890", TrackID: "T1", IsMatched: true, IsCleared: false}))
	require.NoError(t, svc.Upsert(ctx, &Clearance{ReleaseID: "US1234567890", TrackID: "T2", IsMatched: true, IsCleared: true}))
	require.NoError(t, svc.Upsert(ctx, &Clearance{ReleaseID: "US1234567890", TrackID: "T1", IsMatched: true, IsCleared: true}))

	verdicts, err := svc.ListForRelease(ctx, "US1234567890")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"T1": true, "T2": true}, verdicts)

	verdicts, err = svc.ListForRelease(ctx, "XX0000000000")
	require.NoError(t, err)
	assert.Empty(t, verdicts)
}

func TestUpdateCounts(t *testing.T) {
	t.Parallel()

	ctx := testContext()
	db := setupTestDB(t)
	svc := NewService(db)

	seedRelease(t, db, "US1234567890")
	seedRelease(t, db, "00602577890123")

	require.NoError(t, svc.Upsert(ctx, &Clearance{ReleaseID: "US1234567890", TrackID: "T1", IsMatched: true, IsCleared: true}))
	require.NoError(t, svc.Upsert(ctx, &Clearance{ReleaseID: "US1234567890", TrackID: "T2", IsMatched: true, IsCleared: false}))
	require.NoError(t, svc.Upsert(ctx, &Clearance{ReleaseID: "US1234567890", TrackID: "T3", IsMatched: false, IsCleared: false}))

	require.NoError(t, svc.UpdateCounts(ctx))

	var cleared, notCleared int
	err := db.QueryRowContext(ctx, `SELECT num_cleared, num_not_cleared FROM releases WHERE key = ?`, "US1234567890").
		Scan(&cleared, &notCleared)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)
	assert.Equal(t, 2, notCleared)

	// Releases without verdicts stay untouched.
	var untouched sql.NullInt64
	err = db.QueryRowContext(ctx, `SELECT num_cleared FROM releases WHERE key = ?`, "00602577890123").
		Scan(&untouched)
	require.NoError(t, err)
	assert.False(t, untouched.Valid)
}

func seedReport(t *testing.T, root, name string, body []byte) {
	t.Helper()
	path := filepath.Join(root, "mri-reports", "outputs", "lsr", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, body, 0o644))
}

func gzipped(t *testing.T, body []byte) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := gzip.NewWriter(buf)
	_, err := zw.Write(body)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestSweepReports(t *testing.T) {
	t.Parallel()

	ctx := testContext()
	db := setupTestDB(t)
	svc := NewService(db)

	seedRelease(t, db, "US1234567890")
	root := t.TempDir()
	store := storage.NewFSStore(root)

	seedReport(t, root, "report1.csv", []byte(
		"client_catalog_id,is_matched,is_cleared\n"+
			"ddex_vydia_US1234567890_T1,Y,Y\n"+
			"ddex_vydia_US1234567890_T2,Y,N\n"+
			"someone_elses_row,Y,Y\n"))
	seedReport(t, root, "report2.csv.gz", gzipped(t, []byte(
		"client_catalog_id,is_matched,is_cleared\n"+
			"ddex_vydia_US1234567890_T3,N,N\n")))
	seedReport(t, root, "notes.txt", []byte("not a report"))

	require.NoError(t, svc.SweepReports(ctx, store, "mri-reports"))

	verdicts, err := svc.ListForRelease(ctx, "US1234567890")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"T1": true, "T2": false, "T3": false}, verdicts)

	var cleared, notCleared int
	err = db.QueryRowContext(ctx, `SELECT num_cleared, num_not_cleared FROM releases WHERE key = ?`, "US1234567890").
		Scan(&cleared, &notCleared)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)
	assert.Equal(t, 2, notCleared)
}

func TestSweepReports_SkipsProcessedFiles(t *testing.T) {
	t.Parallel()

	ctx := testContext()
	db := setupTestDB(t)
	svc := NewService(db)

	seedRelease(t, db, "US1234567890")
	root := t.TempDir()
	store := storage.NewFSStore(root)

	seedReport(t, root, "report1.csv", []byte(
		"client_catalog_id,is_matched,is_cleared\n"+
			"ddex_vydia_US1234567890_T1,Y,Y\n"))
	require.NoError(t, svc.SweepReports(ctx, store, "mri-reports"))

	// The feed never removes files; a rewritten copy of a processed report
	// must not be applied again.
	seedReport(t, root, "report1.csv", []byte(
		"client_catalog_id,is_matched,is_cleared\n"+
			"ddex_vydia_US1234567890_T1,Y,N\n"))
	seedReport(t, root, "report2.csv", []byte(
		"client_catalog_id,is_matched,is_cleared\n"+
			"ddex_vydia_US1234567890_T2,Y,Y\n"))
	require.NoError(t, svc.SweepReports(ctx, store, "mri-reports"))

	verdicts, err := svc.ListForRelease(ctx, "US1234567890")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"T1": true, "T2": true}, verdicts)
}
