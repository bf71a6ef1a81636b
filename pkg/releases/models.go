package releases

import (
	"encoding/json"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tonefeed/ddexd/pkg/ddex"
	"github.com/uptrace/bun"
)

// Reconciliation statuses a release row moves through.
const (
	StatusBlocked        = "Blocked"
	StatusPublishPending = "PublishPending"
	StatusPublished      = "Published"
	StatusFailed         = "Failed"
	StatusDeletePending  = "DeletePending"
	StatusDeleted        = "Deleted"
)

// PublishRetryCeiling is the publish error count at which a row stops being
// retried automatically.
const PublishRetryCeiling = 5

// Release is one catalog entry, keyed by its chosen external identifier.
// The parsed delivery payload is stored as JSON; the typed view lives in
// Parsed and is populated on read.
type Release struct {
	bun.BaseModel `bun:"table:releases,alias:r"`

	Key              string `bun:"key,pk" json:"key"`
	Source           string `bun:"source" json:"source"`
	Ref              string `bun:"ref,nullzero" json:"ref,omitempty"`
	XMLURL           string `bun:"xml_url,nullzero" json:"xml_url,omitempty"`
	MessageTimestamp string `bun:"message_timestamp,nullzero" json:"message_timestamp,omitempty"`
	ReleaseType      string `bun:"release_type,nullzero" json:"release_type,omitempty"`
	ReleaseDate      string `bun:"release_date,nullzero" json:"release_date,omitempty"`
	Payload          string `bun:"payload,nullzero" json:"-"`
	Status           string `bun:"status" json:"status"`

	// Identity of the published entity on the downstream platform.
	EntityType  string     `bun:"entity_type,nullzero" json:"entity_type,omitempty"`
	EntityID    string     `bun:"entity_id,nullzero" json:"entity_id,omitempty"`
	BlockHash   string     `bun:"block_hash,nullzero" json:"block_hash,omitempty"`
	BlockNumber int64      `bun:"block_number,nullzero" json:"block_number,omitempty"`
	PublishedAt *time.Time `bun:"published_at" json:"published_at,omitempty"`

	PublishErrorCount int    `bun:"publish_error_count" json:"publish_error_count"`
	LastPublishError  string `bun:"last_publish_error,nullzero" json:"last_publish_error,omitempty"`

	PrependArtist *bool `bun:"prepend_artist" json:"prepend_artist,omitempty"`
	NumCleared    *int  `bun:"num_cleared" json:"num_cleared,omitempty"`
	NumNotCleared *int  `bun:"num_not_cleared" json:"num_not_cleared,omitempty"`

	CreatedAt time.Time `bun:"created_at,nullzero" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero" json:"updated_at"`

	Parsed *ddex.Release `bun:"-" json:"release,omitempty"`
}

// SetParsed serializes the parsed release into the payload column.
func (r *Release) SetParsed(rel *ddex.Release) error {
	body, err := json.Marshal(rel)
	if err != nil {
		return errors.WithStack(err)
	}
	r.Payload = string(body)
	r.Parsed = rel
	return nil
}

// ParsePayload hydrates Parsed from the payload column.
func (r *Release) ParsePayload() error {
	if r.Payload == "" {
		return nil
	}
	rel := &ddex.Release{}
	if err := json.Unmarshal([]byte(r.Payload), rel); err != nil {
		return errors.WithStack(err)
	}
	r.Parsed = rel
	return nil
}

// Asset remembers where a resource file physically lived the last time any
// delivery referenced it. Reads resolve files through this table so an
// incremental update that omits resource lists doesn't orphan them.
type Asset struct {
	bun.BaseModel `bun:"table:assets,alias:a"`

	Source    string `bun:"source,pk" json:"source"`
	ReleaseID string `bun:"release_id,pk" json:"release_id"`
	Ref       string `bun:"ref,pk" json:"ref"`
	XMLURL    string `bun:"xml_url" json:"xml_url"`
	FilePath  string `bun:"file_path" json:"file_path"`
	FileName  string `bun:"file_name" json:"file_name"`
}

// Location resolves the bucket and object key of the asset's file. Paths in
// the delivery are relative to the folder of the document that declared them.
func (a *Asset) Location() (bucket, key string, err error) {
	u, err := url.Parse(a.XMLURL)
	if err != nil {
		return "", "", errors.Wrapf(err, "failed to parse asset document url %s", a.XMLURL)
	}

	dir := path.Dir(strings.TrimPrefix(u.Path, "/"))
	if dir == "." {
		dir = ""
	} else {
		dir += "/"
	}
	return u.Host, dir + a.FilePath + a.FileName, nil
}
