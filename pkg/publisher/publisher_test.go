package publisher

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tonefeed/ddexd/pkg/ddex"
	"github.com/tonefeed/ddexd/pkg/migrations"
	"github.com/tonefeed/ddexd/pkg/releases"
	"github.com/tonefeed/ddexd/pkg/sources"
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

type fakePlatform struct {
	trackUploads []UploadTrackRequest
	albumUploads []UploadAlbumRequest
	trackUpdates []UpdateTrackRequest
	albumUpdates []UpdateAlbumRequest
	deletedIDs   []string
	err          error
}

func (p *fakePlatform) result(entityID string) (*Result, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &Result{EntityID: entityID, BlockHash: "0xabc", BlockNumber: 42}, nil
}

func (p *fakePlatform) UploadTrack(ctx context.Context, req UploadTrackRequest) (*Result, error) {
	p.trackUploads = append(p.trackUploads, req)
	return p.result("track-1")
}

func (p *fakePlatform) UploadAlbum(ctx context.Context, req UploadAlbumRequest) (*Result, error) {
	p.albumUploads = append(p.albumUploads, req)
	return p.result("album-1")
}

func (p *fakePlatform) UpdateTrack(ctx context.Context, req UpdateTrackRequest) (*Result, error) {
	p.trackUpdates = append(p.trackUpdates, req)
	return p.result(req.TrackID)
}

func (p *fakePlatform) UpdateAlbum(ctx context.Context, req UpdateAlbumRequest) (*Result, error) {
	p.albumUpdates = append(p.albumUpdates, req)
	return p.result(req.AlbumID)
}

func (p *fakePlatform) DeleteTrack(ctx context.Context, userID, trackID string) (*Result, error) {
	p.deletedIDs = append(p.deletedIDs, trackID)
	return p.result(trackID)
}

func (p *fakePlatform) DeleteAlbum(ctx context.Context, userID, albumID string) (*Result, error) {
	p.deletedIDs = append(p.deletedIDs, albumID)
	return p.result(albumID)
}

const testXMLURL = "s3://vydia-deliveries/20240301/release.xml"

func testRelease(isrc string, trackCount int) *ddex.Release {
	release := &ddex.Release{
		Ref:           "R0",
		Title:         "Neon Skyline",
		ReleaseType:   "Single",
		ReleaseDate:   "2024-02-14",
		ReleaseIDs:    ddex.ReleaseIDs{ISRC: isrc},
		CatalogUserID: "user-1",
		Problems:      []string{},
		Deals:         []ddex.Deal{{Type: ddex.DealFree, ForStream: true}},
		Images: []ddex.ResourceRef{
			{Ref: "IMG", FilePath: "resources/", FileName: "cover.jpg"},
		},
	}
	for i := 0; i < trackCount; i++ {
		ref := string(rune('A' + i))
		release.SoundRecordings = append(release.SoundRecordings, &ddex.SoundRecording{
			ResourceRef: ddex.ResourceRef{Ref: ref, FilePath: "resources/", FileName: ref + ".wav"},
			Title:       "Track " + ref,
		})
	}
	return release
}

type harness struct {
	svc      *Service
	releases *releases.Service
	platform *fakePlatform
	root     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := setupTestDB(t)
	rel := releases.NewService(db)
	platform := &fakePlatform{}
	root := t.TempDir()

	svc := NewService(rel, testRegistry(t), storage.NewFSStore(root), platform)
	svc.Now = func() time.Time {
		return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	}

	return &harness{svc: svc, releases: rel, platform: platform, root: root}
}

func (h *harness) seedAssets(t *testing.T, release *ddex.Release) {
	t.Helper()
	write := func(ref ddex.ResourceRef, body string) {
		path := filepath.Join(h.root, "vydia-deliveries", "20240301", filepath.FromSlash(ref.FilePath+ref.FileName))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	for _, img := range release.Images {
		write(img, "image "+img.FileName)
	}
	for _, sound := range release.SoundRecordings {
		write(sound.ResourceRef, "audio "+sound.FileName)
	}
}

func TestDrain_PublishesTrack(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	h := newHarness(t)

	release := testRelease("US1234567890", 1)
	h.seedAssets(t, release)
	require.NoError(t, h.releases.Upsert(ctx, "vydia", testXMLURL, "2024-03-01T10:00:00Z", release))

	require.NoError(t, h.svc.Drain(ctx))

	require.Len(t, h.platform.trackUploads, 1)
	req := h.platform.trackUploads[0]
	assert.Equal(t, "user-1", req.UserID)
	assert.Equal(t, "Track A", req.Metadata.Title)
	assert.Equal(t, []byte("audio A.wav"), req.Audio)
	assert.Equal(t, []byte("image cover.jpg"), req.CoverArt)

	row, err := h.releases.Retrieve(ctx, releases.RetrieveOptions{Key: pointerutil.String("US1234567890")})
	require.NoError(t, err)
	assert.Equal(t, releases.StatusPublished, row.Status)
	assert.Equal(t, EntityTypeTrack, row.EntityType)
	assert.Equal(t, "track-1", row.EntityID)
	assert.Equal(t, "0xabc", row.BlockHash)
	assert.EqualValues(t, 42, row.BlockNumber)
	require.NotNil(t, row.PublishedAt)
}

func TestDrain_PublishesAlbum(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	h := newHarness(t)

	release := testRelease("", 2)
	release.ReleaseIDs = ddex.ReleaseIDs{ICPN: "00602577890123"}
	release.ReleaseType = "Album"
	h.seedAssets(t, release)
	require.NoError(t, h.releases.Upsert(ctx, "vydia", testXMLURL, "2024-03-01T10:00:00Z", release))

	require.NoError(t, h.svc.Drain(ctx))

	require.Len(t, h.platform.albumUploads, 1)
	req := h.platform.albumUploads[0]
	assert.Equal(t, "Neon Skyline", req.Metadata.AlbumName)
	assert.Equal(t, "00602577890123", req.Metadata.UPC)
	require.Len(t, req.TrackMetadata, 2)
	require.Len(t, req.TrackAudio, 2)
	assert.Equal(t, []byte("audio B.wav"), req.TrackAudio[1])

	row, err := h.releases.Retrieve(ctx, releases.RetrieveOptions{Key: pointerutil.String("00602577890123")})
	require.NoError(t, err)
	assert.Equal(t, EntityTypeAlbum, row.EntityType)
	assert.Equal(t, "album-1", row.EntityID)
}

func TestDrain_SkipsFutureRelease(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	h := newHarness(t)

	release := testRelease("US1234567890", 1)
	release.ReleaseDate = "2999-01-01"
	h.seedAssets(t, release)
	require.NoError(t, h.releases.Upsert(ctx, "vydia", testXMLURL, "2024-03-01T10:00:00Z", release))

	require.NoError(t, h.svc.Drain(ctx))

	assert.Empty(t, h.platform.trackUploads)
	row, err := h.releases.Retrieve(ctx, releases.RetrieveOptions{Key: pointerutil.String("US1234567890")})
	require.NoError(t, err)
	assert.Equal(t, releases.StatusPublishPending, row.Status)
}

func TestDrain_SkipsUnmatchedUser(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	h := newHarness(t)

	release := testRelease("US1234567890", 1)
	release.CatalogUserID = ""
	h.seedAssets(t, release)
	require.NoError(t, h.releases.Upsert(ctx, "vydia", testXMLURL, "2024-03-01T10:00:00Z", release))

	require.NoError(t, h.svc.Drain(ctx))

	assert.Empty(t, h.platform.trackUploads)
	row, err := h.releases.Retrieve(ctx, releases.RetrieveOptions{Key: pointerutil.String("US1234567890")})
	require.NoError(t, err)
	assert.Equal(t, releases.StatusPublishPending, row.Status)
	assert.Zero(t, row.PublishErrorCount)
}

func TestDrain_RecordsFailure(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	h := newHarness(t)
	h.platform.err = errors.New("gateway timeout")

	release := testRelease("US1234567890", 1)
	h.seedAssets(t, release)
	require.NoError(t, h.releases.Upsert(ctx, "vydia", testXMLURL, "2024-03-01T10:00:00Z", release))

	require.NoError(t, h.svc.Drain(ctx))

	row, err := h.releases.Retrieve(ctx, releases.RetrieveOptions{Key: pointerutil.String("US1234567890")})
	require.NoError(t, err)
	assert.Equal(t, releases.StatusFailed, row.Status)
	assert.Equal(t, 1, row.PublishErrorCount)
	assert.Contains(t, row.LastPublishError, "gateway timeout")
}

func TestDrain_UpdatesExistingTrack(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	h := newHarness(t)

	release := testRelease("US1234567890", 1)
	h.seedAssets(t, release)
	require.NoError(t, h.releases.Upsert(ctx, "vydia", testXMLURL, "2024-03-01T10:00:00Z", release))
	require.NoError(t, h.releases.MarkPublished(ctx, "US1234567890", EntityTypeTrack, "track-9", "0x1", 1))

	// A fresh delivery of the same release flips it back to pending while
	// keeping the platform entity.
	updated := testRelease("US1234567890", 1)
	updated.Title = "Neon Skyline (Deluxe)"
	require.NoError(t, h.releases.Upsert(ctx, "vydia", testXMLURL, "2024-03-02T10:00:00Z", updated))

	require.NoError(t, h.svc.Drain(ctx))

	require.Len(t, h.platform.trackUpdates, 1)
	assert.Equal(t, "track-9", h.platform.trackUpdates[0].TrackID)
	assert.Empty(t, h.platform.trackUploads)

	row, err := h.releases.Retrieve(ctx, releases.RetrieveOptions{Key: pointerutil.String("US1234567890")})
	require.NoError(t, err)
	assert.Equal(t, releases.StatusPublished, row.Status)
	assert.Equal(t, "track-9", row.EntityID)
}

func TestDrain_DeletesTakedown(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	h := newHarness(t)

	release := testRelease("US1234567890", 1)
	h.seedAssets(t, release)
	require.NoError(t, h.releases.Upsert(ctx, "vydia", testXMLURL, "2024-03-01T10:00:00Z", release))
	require.NoError(t, h.releases.MarkPublished(ctx, "US1234567890", EntityTypeTrack, "track-9", "0x1", 1))

	takedown := testRelease("US1234567890", 1)
	takedown.Deals = []ddex.Deal{}
	require.NoError(t, h.releases.Upsert(ctx, "vydia", testXMLURL, "2024-03-02T10:00:00Z", takedown))

	require.NoError(t, h.svc.Drain(ctx))

	assert.Equal(t, []string{"track-9"}, h.platform.deletedIDs)
	row, err := h.releases.Retrieve(ctx, releases.RetrieveOptions{Key: pointerutil.String("US1234567890")})
	require.NoError(t, err)
	assert.Equal(t, releases.StatusDeleted, row.Status)
}

func TestDrain_DeleteNeverPublished(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	h := newHarness(t)

	release := testRelease("US1234567890", 1)
	h.seedAssets(t, release)
	require.NoError(t, h.releases.Upsert(ctx, "vydia", testXMLURL, "2024-03-01T10:00:00Z", release))
	require.NoError(t, h.releases.MarkForDelete(ctx, "vydia", testXMLURL, "2024-03-02T10:00:00Z", ddex.ReleaseIDs{ISRC: "US1234567890"}))

	require.NoError(t, h.svc.Drain(ctx))

	assert.Empty(t, h.platform.deletedIDs)
	row, err := h.releases.Retrieve(ctx, releases.RetrieveOptions{Key: pointerutil.String("US1234567890")})
	require.NoError(t, err)
	assert.Equal(t, releases.StatusDeleted, row.Status)
}
