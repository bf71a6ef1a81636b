package xmls

import (
	"context"
	"database/sql"
	"testing"

	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tonefeed/ddexd/pkg/errcodes"
	"github.com/tonefeed/ddexd/pkg/migrations"
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

func TestUpsert(t *testing.T) {
	t.Parallel()

	ctx := testContext()
	svc := NewService(setupTestDB(t))

	row := &XML{
		XMLURL:           "s3://vydia-deliveries/20240301/release.xml",
		Source:           "vydia",
		MessageTimestamp: "2024-03-01T00:00:00Z",
	}
	require.NoError(t, svc.Upsert(ctx, row))
	assert.False(t, row.CreatedAt.IsZero())

	// Redeliveries overwrite the timestamp without duplicating the row.
	require.NoError(t, svc.Upsert(ctx, &XML{
		XMLURL:           "s3://vydia-deliveries/20240301/release.xml",
		Source:           "vydia",
		MessageTimestamp: "2024-03-05T00:00:00Z",
	}))

	got, err := svc.Retrieve(ctx, "s3://vydia-deliveries/20240301/release.xml")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05T00:00:00Z", got.MessageTimestamp)

	rows, err := svc.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRetrieveNotFound(t *testing.T) {
	t.Parallel()

	svc := NewService(setupTestDB(t))

	_, err := svc.Retrieve(testContext(), "s3://nope/missing.xml")
	require.Error(t, err)
	assert.ErrorIs(t, err, errcodes.NotFound("XML"))
}

func TestList(t *testing.T) {
	t.Parallel()

	ctx := testContext()
	svc := NewService(setupTestDB(t))

	for i, url := range []string{
		"s3://vydia-deliveries/20240301/a.xml",
		"s3://vydia-deliveries/20240302/b.xml",
		"s3://sme-deliveries/batch/c.xml",
	} {
		require.NoError(t, svc.Upsert(ctx, &XML{
			XMLURL:           url,
			Source:           "vydia",
			MessageTimestamp: "2024-03-0" + string(rune('1'+i)) + "T00:00:00Z",
		}))
	}

	rows, err := svc.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "s3://sme-deliveries/batch/c.xml", rows[0].XMLURL)

	rows, err = svc.List(ctx, ListOptions{After: pointerutil.String("s3://sme-deliveries/batch/c.xml")})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "s3://vydia-deliveries/20240301/a.xml", rows[0].XMLURL)

	rows, err = svc.List(ctx, ListOptions{Search: pointerutil.String("vydia"), Limit: pointerutil.Int(1)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "s3://vydia-deliveries/20240302/b.xml", rows[0].XMLURL)
}
