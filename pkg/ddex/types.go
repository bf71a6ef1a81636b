// Package ddex parses DDEX ERN delivery documents into the normalized
// release model the rest of the pipeline works with. Two ERN generations
// (3.8 and 4.x) are supported behind a single output shape.
package ddex

import (
	"context"

	"github.com/tonefeed/ddexd/pkg/genres"
)

type MessageKind string

const (
	KindNewRelease MessageKind = "NewReleaseMessage"
	KindPurge      MessageKind = "PurgeReleaseMessage"
	KindManifest   MessageKind = "ManifestMessage"
)

// Structural defects recorded on a release. They block publishing but not
// ingestion; a later corrective delivery clears them.
const (
	ProblemNoDeal           = "NoDeal"
	ProblemNoImage          = "NoImage"
	ProblemNoGenre          = "NoGenre"
	ProblemDuplicateRelease = "DuplicateRelease"
)

// ParsedMessage is the outcome of parsing one delivery document.
type ParsedMessage struct {
	Kind             MessageKind
	MessageID        string
	MessageTimestamp string

	// Populated for NewReleaseMessage.
	Releases []*Release
	// Populated for PurgeReleaseMessage.
	Purge *PurgeRelease
}

// ReleaseIDs is the set of external identifiers a release may carry. All are
// optional individually; the release store requires at least one of the
// key-eligible ones (ISRC, ICPN, GRid) to persist a release.
type ReleaseIDs struct {
	PartyID       string `json:"party_id,omitempty"`
	CatalogNumber string `json:"catalog_number,omitempty"`
	ICPN          string `json:"icpn,omitempty"`
	GRid          string `json:"grid,omitempty"`
	ISAN          string `json:"isan,omitempty"`
	ISBN          string `json:"isbn,omitempty"`
	ISMN          string `json:"ismn,omitempty"`
	ISRC          string `json:"isrc,omitempty"`
	ISSN          string `json:"issn,omitempty"`
	ISTC          string `json:"istc,omitempty"`
	ISWC          string `json:"iswc,omitempty"`
	MWLI          string `json:"mwli,omitempty"`
	SICI          string `json:"sici,omitempty"`
	ProprietaryID string `json:"proprietary_id,omitempty"`
}

func (ids ReleaseIDs) Empty() bool {
	return ids == ReleaseIDs{}
}

type Contributor struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

type CopyrightLine struct {
	Year string `json:"year"`
	Text string `json:"text"`
}

type RightsController struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
}

// ResourceRef is an opaque pointer to a file delivered alongside (or
// referenced relative to) the XML document.
type ResourceRef struct {
	Ref      string `json:"ref"`
	FilePath string `json:"file_path,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

type SoundRecording struct {
	ResourceRef

	ISRC                string            `json:"isrc,omitempty"`
	Title               string            `json:"title"`
	SubTitle            string            `json:"sub_title,omitempty"`
	ReleaseDate         string            `json:"release_date,omitempty"`
	Genre               string            `json:"genre,omitempty"`
	SubGenre            string            `json:"sub_genre,omitempty"`
	DurationSeconds     int               `json:"duration_seconds,omitempty"`
	PreviewStartSeconds *int              `json:"preview_start_seconds,omitempty"`
	CatalogGenre        genres.Genre      `json:"catalog_genre,omitempty"`
	LabelName           string            `json:"label_name,omitempty"`
	ParentalWarningType string            `json:"parental_warning_type,omitempty"`
	CopyrightLine       *CopyrightLine    `json:"copyright_line,omitempty"`
	ProducerCopyright   *CopyrightLine    `json:"producer_copyright_line,omitempty"`
	RightsController    *RightsController `json:"rights_controller,omitempty"`

	Artists              []Contributor `json:"artists,omitempty"`
	Contributors         []Contributor `json:"contributors,omitempty"`
	IndirectContributors []Contributor `json:"indirect_contributors,omitempty"`
}

type DealType string

const (
	DealFree        DealType = "Free"
	DealPayGated    DealType = "PayGated"
	DealFollowGated DealType = "FollowGated"
	DealTipGated    DealType = "TipGated"
	DealNFTGated    DealType = "NFTGated"
)

// Deal is a commercial usage grant. Type discriminates the variant; the NFT
// fields are only set for NFTGated deals.
type Deal struct {
	Type DealType `json:"type"`

	ValidityStartDate string `json:"validity_start_date,omitempty"`
	ValidityEndDate   string `json:"validity_end_date,omitempty"`
	ForStream         bool   `json:"for_stream"`
	ForDownload       bool   `json:"for_download"`

	PriceUSD *float64 `json:"price_usd,omitempty"`

	Chain        string `json:"chain,omitempty"`
	Address      string `json:"address,omitempty"`
	Standard     string `json:"standard,omitempty"`
	Name         string `json:"name,omitempty"`
	Slug         string `json:"slug,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
	ExternalLink string `json:"external_link,omitempty"`
}

// Release is the normalized aggregate produced by the parser.
type Release struct {
	Ref         string     `json:"ref"`
	Title       string     `json:"title"`
	SubTitle    string     `json:"sub_title,omitempty"`
	Genre       string     `json:"genre,omitempty"`
	SubGenre    string     `json:"sub_genre,omitempty"`
	ReleaseDate string     `json:"release_date,omitempty"`
	ReleaseType string     `json:"release_type,omitempty"`
	ReleaseIDs  ReleaseIDs `json:"release_ids"`

	LabelName           string         `json:"label_name,omitempty"`
	ParentalWarningType string         `json:"parental_warning_type,omitempty"`
	CopyrightLine       *CopyrightLine `json:"copyright_line,omitempty"`
	ProducerCopyright   *CopyrightLine `json:"producer_copyright_line,omitempty"`

	Artists              []Contributor `json:"artists,omitempty"`
	Contributors         []Contributor `json:"contributors,omitempty"`
	IndirectContributors []Contributor `json:"indirect_contributors,omitempty"`

	IsMainRelease bool         `json:"is_main_release"`
	CatalogGenre  genres.Genre `json:"catalog_genre,omitempty"`
	CatalogUserID string       `json:"catalog_user_id,omitempty"`

	Problems        []string          `json:"problems"`
	SoundRecordings []*SoundRecording `json:"sound_recordings"`
	Images          []ResourceRef     `json:"images"`
	Deals           []Deal            `json:"deals"`
}

// HasProblem reports whether the release carries the given structural defect.
func (r *Release) HasProblem(problem string) bool {
	for _, p := range r.Problems {
		if p == problem {
			return true
		}
	}
	return false
}

// PurgeRelease identifies a release a source wants withdrawn.
type PurgeRelease struct {
	ReleaseIDs ReleaseIDs `json:"release_ids"`
}

// UserMatcher resolves a publishing identity from artist display names,
// scoped by the API key the source's users authorized. Implemented by the
// users package; injected so parsing stays deterministic in tests.
type UserMatcher interface {
	Match(ctx context.Context, apiKey string, artistNames []string) (string, error)
}
