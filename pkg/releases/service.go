package releases

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tonefeed/ddexd/pkg/ddex"
	"github.com/tonefeed/ddexd/pkg/errcodes"
	"github.com/uptrace/bun"
)

// ErrNoIdentifier is returned when a release carries none of the
// key-eligible identifiers. This is a hard ingest failure for that release.
var ErrNoIdentifier = errors.New("release has no usable identifier")

// ChooseKey picks the row key from a release's identifier set, preferring
// ISRC, then ICPN, then GRid.
func ChooseKey(ids ddex.ReleaseIDs) (string, error) {
	if key := firstOf(ids.ISRC, ids.ICPN, ids.GRid); key != "" {
		return key, nil
	}
	return "", errors.Wrapf(ErrNoIdentifier, "ids=%+v", ids)
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

type RetrieveOptions struct {
	Key    *string
	XMLURL *string
}

type ListOptions struct {
	// PendingPublish selects rows the publisher should attempt: statuses
	// PublishPending, Failed and DeletePending, below the retry ceiling.
	PendingPublish bool

	Status  *string
	Source  *string
	Search  *string
	Cleared *bool
	Limit   *int
	Offset  *int
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// Upsert merges one parsed release into the store. Stale versions (a prior
// row with a newer message timestamp) and TrackRelease rows are discarded.
// Assets are recorded before the row itself so reads never race a missing
// file location.
func (svc *Service) Upsert(ctx context.Context, source, xmlURL, messageTimestamp string, release *ddex.Release) error {
	log := logger.FromContext(ctx)

	// Bundled per-track releases never become catalog entries.
	if release.ReleaseType == "TrackRelease" {
		return nil
	}

	key, err := ChooseKey(release.ReleaseIDs)
	if err != nil {
		return err
	}

	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		prior := &Release{}
		err := tx.NewSelect().Model(prior).Where("key = ?", key).Limit(1).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			prior = nil
		} else if err != nil {
			return errors.WithStack(err)
		}

		// Deliveries arrive re-ordered; an older version showing up after
		// a newer one is expected noise.
		if prior != nil && prior.MessageTimestamp > messageTimestamp {
			log.Data(logger.Data{"key": key, "xml_url": xmlURL}).Info("skipping stale release version")
			return nil
		}

		status := StatusPublishPending
		if len(release.Problems) > 0 {
			status = StatusBlocked
		}
		// A published release whose update carries no deal at all is a
		// takedown, not a defect.
		if prior != nil && prior.EntityID != "" && len(release.Deals) == 0 {
			status = StatusDeletePending
		}

		for _, res := range assetRefs(release) {
			if res.Ref == "" || res.FilePath == "" || res.FileName == "" {
				continue
			}
			asset := &Asset{
				Source:    source,
				ReleaseID: key,
				Ref:       res.Ref,
				XMLURL:    xmlURL,
				FilePath:  res.FilePath,
				FileName:  res.FileName,
			}
			_, err := tx.NewInsert().
				Model(asset).
				On("CONFLICT (source, release_id, ref) DO UPDATE").
				Set("xml_url = EXCLUDED.xml_url").
				Set("file_path = EXCLUDED.file_path").
				Set("file_name = EXCLUDED.file_name").
				Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
		}

		row := &Release{
			Key:              key,
			Source:           source,
			Ref:              release.Ref,
			XMLURL:           xmlURL,
			MessageTimestamp: messageTimestamp,
			ReleaseType:      release.ReleaseType,
			ReleaseDate:      release.ReleaseDate,
			Status:           status,
			CreatedAt:        time.Now(),
			UpdatedAt:        time.Now(),
		}
		if err := row.SetParsed(release); err != nil {
			return err
		}

		// Publish bookkeeping and entity identity survive re-ingestion.
		_, err = tx.NewInsert().
			Model(row).
			On("CONFLICT (key) DO UPDATE").
			Set("source = EXCLUDED.source").
			Set("ref = EXCLUDED.ref").
			Set("xml_url = EXCLUDED.xml_url").
			Set("message_timestamp = EXCLUDED.message_timestamp").
			Set("release_type = EXCLUDED.release_type").
			Set("release_date = EXCLUDED.release_date").
			Set("payload = EXCLUDED.payload").
			Set("status = EXCLUDED.status").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		return errors.WithStack(err)
	})
}

// MarkForDelete handles a purge message. A purge for a key we never stored
// is logged and dropped.
func (svc *Service) MarkForDelete(ctx context.Context, source, xmlURL, messageTimestamp string, ids ddex.ReleaseIDs) error {
	key, err := ChooseKey(ids)
	if err != nil {
		return err
	}

	res, err := svc.db.NewUpdate().
		Model((*Release)(nil)).
		Set("status = ?", StatusDeletePending).
		Set("source = ?", source).
		Set("xml_url = ?", xmlURL).
		Set("message_timestamp = ?", messageTimestamp).
		Set("updated_at = ?", time.Now()).
		Where("key = ?", key).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		logger.FromContext(ctx).Data(logger.Data{"key": key}).Info("purge for unknown release")
	}
	return nil
}

func (svc *Service) Retrieve(ctx context.Context, opts RetrieveOptions) (*Release, error) {
	row := &Release{}
	q := svc.db.NewSelect().Model(row)
	if opts.Key != nil {
		q = q.Where("key = ?", *opts.Key)
	}
	if opts.XMLURL != nil {
		q = q.Where("xml_url = ?", *opts.XMLURL)
	}
	err := q.Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errcodes.NotFound("Release")
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := row.ParsePayload(); err != nil {
		return nil, err
	}
	return row, nil
}

func (svc *Service) List(ctx context.Context, opts ListOptions) ([]*Release, error) {
	var rows []*Release
	q := svc.db.NewSelect().Model(&rows)

	if opts.PendingPublish {
		q = q.
			Where("status IN (?, ?, ?)", StatusPublishPending, StatusFailed, StatusDeletePending).
			Where("publish_error_count < ?", PublishRetryCeiling)
	}
	if opts.Status != nil {
		q = q.Where("status = ?", *opts.Status)
	}
	if opts.Source != nil {
		q = q.Where("source = ?", *opts.Source)
	}
	if opts.Search != nil {
		like := "%" + *opts.Search + "%"
		q = q.Where("(payload LIKE ? OR key LIKE ? OR source LIKE ?)", like, like, like)
	}
	if opts.Cleared != nil && *opts.Cleared {
		q = q.Where("num_cleared > 0")
	}

	q = q.Order("message_timestamp DESC")
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	for _, row := range rows {
		if err := row.ParsePayload(); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// Update writes the named columns from the model. UpdatedAt is always
// stamped.
func (svc *Service) Update(ctx context.Context, release *Release, columns ...string) error {
	release.UpdatedAt = time.Now()
	columns = append(columns, "updated_at")
	_, err := svc.db.NewUpdate().
		Model(release).
		Column(columns...).
		WherePK().
		Exec(ctx)
	return errors.WithStack(err)
}

// MarkPublished records the downstream identity after a successful publish.
func (svc *Service) MarkPublished(ctx context.Context, key, entityType, entityID, blockHash string, blockNumber int64) error {
	now := time.Now()
	row := &Release{
		Key:         key,
		Status:      StatusPublished,
		EntityType:  entityType,
		EntityID:    entityID,
		BlockHash:   blockHash,
		BlockNumber: blockNumber,
		PublishedAt: &now,
	}
	return svc.Update(ctx, row, "status", "entity_type", "entity_id", "block_hash", "block_number", "published_at")
}

// MarkDeleted records a completed takedown.
func (svc *Service) MarkDeleted(ctx context.Context, key, blockHash string, blockNumber int64) error {
	now := time.Now()
	row := &Release{
		Key:         key,
		Status:      StatusDeleted,
		BlockHash:   blockHash,
		BlockNumber: blockNumber,
		PublishedAt: &now,
	}
	return svc.Update(ctx, row, "status", "block_hash", "block_number", "published_at")
}

// AddPublishError marks a failed publish attempt. Once the counter reaches
// the retry ceiling the row drops out of automatic retry.
func (svc *Service) AddPublishError(ctx context.Context, key string, cause error) error {
	_, err := svc.db.NewUpdate().
		Model((*Release)(nil)).
		Set("status = ?", StatusFailed).
		Set("last_publish_error = ?", fmt.Sprintf("%+v", cause)).
		Set("publish_error_count = publish_error_count + 1").
		Set("updated_at = ?", time.Now()).
		Where("key = ?", key).
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) MarkPrependArtist(ctx context.Context, key string, prepend bool) error {
	_, err := svc.db.NewUpdate().
		Model((*Release)(nil)).
		Set("prepend_artist = ?", prepend).
		Set("updated_at = ?", time.Now()).
		Where("key = ?", key).
		Exec(ctx)
	return errors.WithStack(err)
}

type SourceStat struct {
	Source string `bun:"source" json:"source"`
	Count  int    `bun:"count" json:"count"`
}

func (svc *Service) Stats(ctx context.Context) ([]SourceStat, error) {
	var stats []SourceStat
	err := svc.db.NewSelect().
		Model((*Release)(nil)).
		ColumnExpr("source").
		ColumnExpr("COUNT(*) AS count").
		GroupExpr("source").
		Scan(ctx, &stats)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return stats, nil
}

// ResolveAsset finds the remembered file location for a resource ref.
func (svc *Service) ResolveAsset(ctx context.Context, source, releaseID, ref string) (*Asset, error) {
	asset := &Asset{}
	err := svc.db.NewSelect().
		Model(asset).
		Where("source = ?", source).
		Where("release_id = ?", releaseID).
		Where("ref = ?", ref).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errcodes.NotFound("Asset")
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return asset, nil
}

func assetRefs(release *ddex.Release) []ddex.ResourceRef {
	refs := make([]ddex.ResourceRef, 0, len(release.SoundRecordings)+len(release.Images))
	for _, sr := range release.SoundRecordings {
		refs = append(refs, sr.ResourceRef)
	}
	refs = append(refs, release.Images...)
	return refs
}
