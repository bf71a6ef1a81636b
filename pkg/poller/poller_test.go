package poller

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tonefeed/ddexd/pkg/cursors"
	"github.com/tonefeed/ddexd/pkg/ddex"
	"github.com/tonefeed/ddexd/pkg/migrations"
	"github.com/tonefeed/ddexd/pkg/releases"
	"github.com/tonefeed/ddexd/pkg/sources"
	"github.com/tonefeed/ddexd/pkg/storage"
	"github.com/tonefeed/ddexd/pkg/xmls"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const manifestXML = `<ManifestMessage>
  <MessageHeader>
    <MessageId>MSG-MANIFEST</MessageId>
    <MessageCreatedDateTime>2024-03-01T00:00:00Z</MessageCreatedDateTime>
  </MessageHeader>
</ManifestMessage>`

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

type harness struct {
	poller   *Poller
	releases *releases.Service
	xmls     *xmls.Service
	cursors  *cursors.Service
}

func newHarness(t *testing.T, store storage.ObjectStore) *harness {
	t.Helper()

	db := setupTestDB(t)
	rel := releases.NewService(db)
	xm := xmls.NewService(db)
	cur := cursors.NewService(db)
	parser := ddex.NewParser(nil, nil)

	return &harness{
		poller:   New(store, nil, parser, rel, xm, cur, nil),
		releases: rel,
		xmls:     xm,
		cursors:  cur,
	}
}

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("..", "ddex", "testdata", name))
	require.NoError(t, err)
	return body
}

func seedObject(t *testing.T, root, bucket, key string, body []byte) {
	t.Helper()
	path := filepath.Join(root, bucket, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, body, 0o644))
}

func TestPoll_PrefixedBucket(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	root := t.TempDir()
	bucket := "vydia-deliveries"

	seedObject(t, root, bucket, "20240301T100000/release.xml", fixture(t, "single_ern38.xml"))
	seedObject(t, root, bucket, "20240301T100000/resources/US1234567890.wav", []byte("audio"))
	seedObject(t, root, bucket, "20240305T120000/release.xml", fixture(t, "album_ern38.xml"))
	seedObject(t, root, bucket, "20240305T120000/BatchComplete_1.xml", []byte("<BatchComplete/>"))

	h := newHarness(t, storage.NewFSStore(root))
	src := sources.Source{Name: "vydia", Bucket: bucket}

	require.NoError(t, h.poller.Poll(ctx, src, false))

	single, err := h.releases.Retrieve(ctx, releases.RetrieveOptions{Key: pointerutil.String("US1234567890")})
	require.NoError(t, err)
	assert.Equal(t, "s3://vydia-deliveries/20240301T100000/release.xml", single.XMLURL)
	assert.Equal(t, "Neon Skyline", single.Parsed.Title)

	album, err := h.releases.Retrieve(ctx, releases.RetrieveOptions{Key: pointerutil.String("00602577890123")})
	require.NoError(t, err)
	assert.Equal(t, "Tidal Memory", album.Parsed.Title)

	rows, err := h.xmls.List(ctx, xmls.ListOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "vydia", row.Source)
		assert.NotContains(t, row.XMLURL, "BatchComplete")
	}

	marker, err := h.cursors.Get(ctx, bucket)
	require.NoError(t, err)
	assert.Equal(t, "20240305T120000/", marker)
}

func TestPoll_ResumesFromCursor(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	root := t.TempDir()
	bucket := "vydia-deliveries"

	seedObject(t, root, bucket, "20240301T100000/release.xml", fixture(t, "single_ern38.xml"))
	seedObject(t, root, bucket, "20240305T120000/release.xml", fixture(t, "album_ern38.xml"))

	h := newHarness(t, storage.NewFSStore(root))
	src := sources.Source{Name: "vydia", Bucket: bucket}

	require.NoError(t, h.cursors.Set(ctx, bucket, "20240301T100000/"))
	require.NoError(t, h.poller.Poll(ctx, src, false))

	_, err := h.releases.Retrieve(ctx, releases.RetrieveOptions{Key: pointerutil.String("US1234567890")})
	require.Error(t, err)

	_, err = h.releases.Retrieve(ctx, releases.RetrieveOptions{Key: pointerutil.String("00602577890123")})
	require.NoError(t, err)
}

func TestPoll_ResetIgnoresCursor(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	root := t.TempDir()
	bucket := "vydia-deliveries"

	seedObject(t, root, bucket, "20240301T100000/release.xml", fixture(t, "single_ern38.xml"))

	h := newHarness(t, storage.NewFSStore(root))
	src := sources.Source{Name: "vydia", Bucket: bucket}

	require.NoError(t, h.cursors.Set(ctx, bucket, "99999999/"))
	require.NoError(t, h.poller.Poll(ctx, src, true))

	_, err := h.releases.Retrieve(ctx, releases.RetrieveOptions{Key: pointerutil.String("US1234567890")})
	require.NoError(t, err)
}

func TestPoll_FlatBucket(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	root := t.TempDir()
	bucket := "sme-deliveries"

	seedObject(t, root, bucket, "release.xml", fixture(t, "single_ern38.xml"))
	seedObject(t, root, bucket, "zz_purge.xml", fixture(t, "purge_ern38.xml"))

	h := newHarness(t, storage.NewFSStore(root))
	src := sources.Source{Name: "sme", Bucket: bucket}

	require.NoError(t, h.poller.Poll(ctx, src, false))

	_, err := h.releases.Retrieve(ctx, releases.RetrieveOptions{Key: pointerutil.String("US1234567890")})
	require.NoError(t, err)

	marker, err := h.cursors.Get(ctx, bucket)
	require.NoError(t, err)
	assert.Equal(t, "zz_purge.xml", marker)
}

func TestPoll_MalformedDocumentDoesNotBlockBatch(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	root := t.TempDir()
	bucket := "vydia-deliveries"

	seedObject(t, root, bucket, "20240301T100000/aa_broken.xml", []byte("<UnexpectedRoot/>"))
	seedObject(t, root, bucket, "20240301T100000/release.xml", fixture(t, "single_ern38.xml"))

	h := newHarness(t, storage.NewFSStore(root))
	src := sources.Source{Name: "vydia", Bucket: bucket}

	require.NoError(t, h.poller.Poll(ctx, src, false))

	_, err := h.releases.Retrieve(ctx, releases.RetrieveOptions{Key: pointerutil.String("US1234567890")})
	require.NoError(t, err)

	marker, err := h.cursors.Get(ctx, bucket)
	require.NoError(t, err)
	assert.Equal(t, "20240301T100000/", marker)
}

func TestPollAll_SkipsBucketlessSources(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	root := t.TempDir()
	bucket := "vydia-deliveries"

	seedObject(t, root, bucket, "20240301T100000/release.xml", fixture(t, "single_ern38.xml"))

	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`sources:
  - name: manual
  - name: vydia
    bucket: vydia-deliveries
    api_key: vydia-key
`), 0o644))
	registry, err := sources.Load(path)
	require.NoError(t, err)

	db := setupTestDB(t)
	rel := releases.NewService(db)
	p := New(storage.NewFSStore(root), registry, ddex.NewParser(registry, nil), rel, xmls.NewService(db), cursors.NewService(db), nil)

	require.NoError(t, p.PollAll(ctx, false))

	_, err = rel.Retrieve(ctx, releases.RetrieveOptions{Key: pointerutil.String("US1234567890")})
	require.NoError(t, err)
}

// scriptedStore serves generated prefixes so batch-cursor behavior can be
// exercised without hundreds of files on disk. One per-prefix listing can be
// made to fail exactly once.
type scriptedStore struct {
	mu         sync.Mutex
	prefixes   []string
	failPrefix string
	failed     bool
	listed     []string
}

func (s *scriptedStore) List(ctx context.Context, bucket string, opts storage.ListOptions) (*storage.ListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.Delimiter == "/" {
		out := []string{}
		for _, p := range s.prefixes {
			if p > opts.Marker {
				out = append(out, p)
			}
		}
		return &storage.ListResult{CommonPrefixes: out}, nil
	}

	if opts.Prefix == s.failPrefix && !s.failed {
		s.failed = true
		return nil, errors.New("transient listing failure")
	}
	s.listed = append(s.listed, opts.Prefix)
	return &storage.ListResult{Objects: []storage.Object{{Key: opts.Prefix + "manifest.xml"}}}, nil
}

func (s *scriptedStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	return []byte(manifestXML), nil
}

func (s *scriptedStore) takeListed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.listed
	s.listed = nil
	return out
}

func TestPoll_CursorAdvancesPerBatch(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	bucket := "bulk-deliveries"

	store := &scriptedStore{failPrefix: "p110/"}
	for i := 0; i < 120; i++ {
		store.prefixes = append(store.prefixes, fmt.Sprintf("p%03d/", i))
	}

	h := newHarness(t, store)
	src := sources.Source{Name: "bulk", Bucket: bucket}

	// The failure lands in the second batch of 100 prefixes, so the first
	// batch completes and commits its cursor before the poll aborts.
	require.Error(t, h.poller.Poll(ctx, src, false))

	marker, err := h.cursors.Get(ctx, bucket)
	require.NoError(t, err)
	assert.Equal(t, "p099/", marker)

	store.takeListed()
	require.NoError(t, h.poller.Poll(ctx, src, false))

	for _, prefix := range store.takeListed() {
		assert.Greater(t, prefix, "p099/")
	}

	rows, err := h.xmls.List(ctx, xmls.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 120)
}
