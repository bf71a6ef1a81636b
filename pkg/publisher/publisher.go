// Package publisher drains releases the store has marked pending and pushes
// them to the catalog platform: creates for rows without an entity, updates
// for rows with one, deletes for takedowns. Results and failures are written
// back onto the release row.
package publisher

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tonefeed/ddexd/pkg/releases"
	"github.com/tonefeed/ddexd/pkg/sources"
	"github.com/tonefeed/ddexd/pkg/storage"
)

// Result reports the platform entity a publish call produced.
type Result struct {
	EntityID    string
	BlockHash   string
	BlockNumber int64
}

type UploadTrackRequest struct {
	UserID   string
	Metadata TrackMetadata
	CoverArt []byte
	Audio    []byte
}

type UploadAlbumRequest struct {
	UserID        string
	Metadata      AlbumMetadata
	CoverArt      []byte
	TrackMetadata []TrackMetadata
	TrackAudio    [][]byte
}

type UpdateTrackRequest struct {
	UserID   string
	TrackID  string
	Metadata TrackMetadata
}

type UpdateAlbumRequest struct {
	UserID   string
	AlbumID  string
	Metadata AlbumMetadata
}

// Platform is the catalog write surface.
type Platform interface {
	UploadTrack(ctx context.Context, req UploadTrackRequest) (*Result, error)
	UploadAlbum(ctx context.Context, req UploadAlbumRequest) (*Result, error)
	UpdateTrack(ctx context.Context, req UpdateTrackRequest) (*Result, error)
	UpdateAlbum(ctx context.Context, req UpdateAlbumRequest) (*Result, error)
	DeleteTrack(ctx context.Context, userID, trackID string) (*Result, error)
	DeleteAlbum(ctx context.Context, userID, albumID string) (*Result, error)
}

const (
	EntityTypeTrack = "track"
	EntityTypeAlbum = "album"
)

type Service struct {
	releases *releases.Service
	registry *sources.Registry
	store    storage.ObjectStore
	platform Platform

	// Now gates future release dates. Overridable in tests.
	Now func() time.Time
}

func NewService(rel *releases.Service, registry *sources.Registry, store storage.ObjectStore, platform Platform) *Service {
	return &Service{
		releases: rel,
		registry: registry,
		store:    store,
		platform: platform,
		Now:      time.Now,
	}
}

// Drain processes every release currently pending publish. Failures are
// recorded per row and do not stop the drain.
func (svc *Service) Drain(ctx context.Context) error {
	rows, err := svc.releases.List(ctx, releases.ListOptions{PendingPublish: true})
	if err != nil {
		return err
	}

	for _, row := range rows {
		log := logger.FromContext(ctx).Data(logger.Data{"key": row.Key, "status": string(row.Status)})

		src, ok := svc.registry.FindByName(row.Source)
		if !ok {
			log.Warn("release belongs to an unconfigured source")
			continue
		}
		if row.Parsed == nil {
			log.Warn("release row has no parseable payload")
			continue
		}

		if err := svc.publishOne(ctx, src, row); err != nil {
			log.Err(err).Error("failed to publish release")
			if err := svc.releases.AddPublishError(ctx, row.Key, err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (svc *Service) publishOne(ctx context.Context, src sources.Source, row *releases.Release) error {
	switch {
	case row.Status == releases.StatusDeletePending:
		return svc.delete(ctx, row)
	case row.EntityID != "":
		return svc.update(ctx, src, row)
	default:
		return svc.create(ctx, src, row)
	}
}

func (svc *Service) create(ctx context.Context, src sources.Source, row *releases.Release) error {
	log := logger.FromContext(ctx).Data(logger.Data{"key": row.Key})
	release := row.Parsed

	if release.CatalogUserID == "" {
		log.Info("release has no matched user, skipping publish")
		return nil
	}
	if date := firstDate(release.ReleaseDate); !date.IsZero() && date.After(svc.Now()) {
		log.Data(logger.Data{"release_date": release.ReleaseDate}).Info("release date is in the future, skipping publish")
		return nil
	}
	if len(release.Images) == 0 {
		return errors.Errorf("release %s has no image resource", row.Key)
	}

	coverArt, err := svc.resolveAsset(ctx, row, release.Images[0].Ref)
	if err != nil {
		return err
	}

	trackAudio := make([][]byte, len(release.SoundRecordings))
	for i, sound := range release.SoundRecordings {
		trackAudio[i], err = svc.resolveAsset(ctx, row, sound.Ref)
		if err != nil {
			return err
		}
	}

	metas := PrepareTrackMetadata(src, release)

	if len(release.SoundRecordings) > 1 {
		result, err := svc.platform.UploadAlbum(ctx, UploadAlbumRequest{
			UserID:        release.CatalogUserID,
			Metadata:      PrepareAlbumMetadata(src, release),
			CoverArt:      coverArt,
			TrackMetadata: metas,
			TrackAudio:    trackAudio,
		})
		if err != nil {
			return err
		}
		return svc.releases.MarkPublished(ctx, row.Key, EntityTypeAlbum, result.EntityID, result.BlockHash, result.BlockNumber)
	}

	if len(metas) == 0 {
		return errors.Errorf("release %s has no sound recordings", row.Key)
	}
	result, err := svc.platform.UploadTrack(ctx, UploadTrackRequest{
		UserID:   release.CatalogUserID,
		Metadata: metas[0],
		CoverArt: coverArt,
		Audio:    trackAudio[0],
	})
	if err != nil {
		return err
	}
	return svc.releases.MarkPublished(ctx, row.Key, EntityTypeTrack, result.EntityID, result.BlockHash, result.BlockNumber)
}

func (svc *Service) update(ctx context.Context, src sources.Source, row *releases.Release) error {
	release := row.Parsed
	metas := PrepareTrackMetadata(src, release)

	var result *Result
	var err error
	switch row.EntityType {
	case EntityTypeTrack:
		if len(metas) == 0 {
			return errors.Errorf("release %s has no sound recordings", row.Key)
		}
		result, err = svc.platform.UpdateTrack(ctx, UpdateTrackRequest{
			UserID:   release.CatalogUserID,
			TrackID:  row.EntityID,
			Metadata: metas[0],
		})
	case EntityTypeAlbum:
		result, err = svc.platform.UpdateAlbum(ctx, UpdateAlbumRequest{
			UserID:   release.CatalogUserID,
			AlbumID:  row.EntityID,
			Metadata: PrepareAlbumMetadata(src, release),
		})
	default:
		return errors.Errorf("release %s has unknown entity type %q", row.Key, row.EntityType)
	}
	if err != nil {
		return err
	}
	return svc.releases.MarkPublished(ctx, row.Key, row.EntityType, row.EntityID, result.BlockHash, result.BlockNumber)
}

func (svc *Service) delete(ctx context.Context, row *releases.Release) error {
	release := row.Parsed

	// Never published: nothing to take down on the platform side.
	if release.CatalogUserID == "" || row.EntityID == "" {
		return svc.releases.MarkDeleted(ctx, row.Key, "", 0)
	}

	var result *Result
	var err error
	switch row.EntityType {
	case EntityTypeTrack:
		result, err = svc.platform.DeleteTrack(ctx, release.CatalogUserID, row.EntityID)
	case EntityTypeAlbum:
		result, err = svc.platform.DeleteAlbum(ctx, release.CatalogUserID, row.EntityID)
	default:
		return errors.Errorf("release %s has unknown entity type %q", row.Key, row.EntityType)
	}
	if err != nil {
		return err
	}
	return svc.releases.MarkDeleted(ctx, row.Key, result.BlockHash, result.BlockNumber)
}

// resolveAsset loads the bytes of a delivery resource. The asset table
// remembers which document delivered each ref; the object lives relative to
// that document's folder.
func (svc *Service) resolveAsset(ctx context.Context, row *releases.Release, ref string) ([]byte, error) {
	asset, err := svc.releases.ResolveAsset(ctx, row.Source, row.Key, ref)
	if err != nil {
		return nil, err
	}

	bucket, key, err := asset.Location()
	if err != nil {
		return nil, err
	}
	return svc.store.Get(ctx, bucket, key)
}
