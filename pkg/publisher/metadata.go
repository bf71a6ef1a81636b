package publisher

import (
	"math"
	"time"

	"github.com/tonefeed/ddexd/pkg/ddex"
	"github.com/tonefeed/ddexd/pkg/genres"
	"github.com/tonefeed/ddexd/pkg/sources"
)

const (
	defaultTrackPriceUSD = 1.0
	defaultAlbumPriceUSD = 5.0
)

// AccessCondition gates streaming or download of an entity. Exactly one
// field is set.
type AccessCondition struct {
	FollowUserID string        `json:"follow_user_id,omitempty"`
	TipUserID    string        `json:"tip_user_id,omitempty"`
	USDCPurchase *USDCPurchase `json:"usdc_purchase,omitempty"`
}

type USDCPurchase struct {
	PriceCents int     `json:"price"`
	Splits     []Split `json:"splits"`
}

type Split struct {
	UserID     string  `json:"user_id"`
	Percentage float64 `json:"percentage"`
}

type TrackMetadata struct {
	Title               string
	Genre               genres.Genre
	ISRC                string
	ISWC                string
	ReleaseDate         time.Time
	ReleaseIDs          ddex.ReleaseIDs
	App                 string
	CopyrightLine       *ddex.CopyrightLine
	ProducerCopyright   *ddex.CopyrightLine
	ParentalWarningType string
	RightsController    *ddex.RightsController
	Artists             []ddex.Contributor
	Contributors        []ddex.Contributor
	IndirectContribs    []ddex.Contributor
	PlacementHosts      string

	IsStreamGated       bool
	StreamConditions    *AccessCondition
	IsDownloadGated     bool
	DownloadConditions  *AccessCondition
	PreviewStartSeconds *int
}

type AlbumMetadata struct {
	AlbumName           string
	Genre               genres.Genre
	ReleaseDate         time.Time
	ReleaseIDs          ddex.ReleaseIDs
	App                 string
	UPC                 string
	CopyrightLine       *ddex.CopyrightLine
	ProducerCopyright   *ddex.CopyrightLine
	ParentalWarningType string
	Artists             []ddex.Contributor

	IsStreamGated      bool
	StreamConditions   *AccessCondition
	IsDownloadGated    bool
	DownloadConditions *AccessCondition
}

// PrepareTrackMetadata maps every sound recording of a release onto platform
// track metadata, folding the release's deals into access conditions.
func PrepareTrackMetadata(src sources.Source, release *ddex.Release) []TrackMetadata {
	metas := make([]TrackMetadata, 0, len(release.SoundRecordings))
	for _, sound := range release.SoundRecordings {
		genre := sound.CatalogGenre
		if genre == "" {
			genre = release.CatalogGenre
		}
		if genre == "" {
			genre = genres.AllGenres
		}

		meta := TrackMetadata{
			Title:               sound.Title,
			Genre:               genre,
			ISRC:                release.ReleaseIDs.ISRC,
			ISWC:                release.ReleaseIDs.ISWC,
			ReleaseDate:         firstDate(sound.ReleaseDate, release.ReleaseDate),
			ReleaseIDs:          release.ReleaseIDs,
			App:                 src.Name,
			CopyrightLine:       firstCopyright(sound.CopyrightLine, release.CopyrightLine),
			ProducerCopyright:   firstCopyright(sound.ProducerCopyright, release.ProducerCopyright),
			ParentalWarningType: firstNonEmpty(sound.ParentalWarningType, release.ParentalWarningType),
			RightsController:    sound.RightsController,
			Artists:             sound.Artists,
			Contributors:        sound.Contributors,
			IndirectContribs:    sound.IndirectContributors,
			PlacementHosts:      src.PlacementHosts,
			PreviewStartSeconds: sound.PreviewStartSeconds,
		}

		for _, deal := range release.Deals {
			switch deal.Type {
			case ddex.DealFollowGated:
				applyGate(&meta, deal, &AccessCondition{FollowUserID: release.CatalogUserID})
			case ddex.DealTipGated:
				applyGate(&meta, deal, &AccessCondition{TipUserID: release.CatalogUserID})
			case ddex.DealPayGated:
				cond := purchaseCondition(src, release, deal.PriceUSD, defaultTrackPriceUSD)
				applyGate(&meta, deal, cond)
				// Purchase-gated streams need a preview window.
				if deal.ForStream && meta.PreviewStartSeconds == nil {
					zero := 0
					meta.PreviewStartSeconds = &zero
				}
			}
		}

		metas = append(metas, meta)
	}
	return metas
}

// PrepareAlbumMetadata maps a multi-track release onto platform album
// metadata. Only purchase deals gate whole albums.
func PrepareAlbumMetadata(src sources.Source, release *ddex.Release) AlbumMetadata {
	genre := release.CatalogGenre
	if genre == "" {
		genre = genres.AllGenres
	}

	meta := AlbumMetadata{
		AlbumName:   release.Title,
		Genre:       genre,
		ReleaseDate: firstDate(release.ReleaseDate),
		ReleaseIDs:  release.ReleaseIDs,
		App:         src.Name,
		// ICPN is a UPC in North America and an EAN elsewhere; the platform
		// calls both UPC.
		UPC:                 release.ReleaseIDs.ICPN,
		CopyrightLine:       release.CopyrightLine,
		ProducerCopyright:   release.ProducerCopyright,
		ParentalWarningType: release.ParentalWarningType,
		Artists:             release.Artists,
	}

	for _, deal := range release.Deals {
		if deal.Type != ddex.DealPayGated {
			continue
		}
		cond := purchaseCondition(src, release, deal.PriceUSD, defaultAlbumPriceUSD)
		if deal.ForStream {
			meta.IsStreamGated = true
			meta.StreamConditions = cond
		}
		if deal.ForDownload {
			meta.IsDownloadGated = true
			meta.DownloadConditions = cond
		}
	}

	return meta
}

func applyGate(meta *TrackMetadata, deal ddex.Deal, cond *AccessCondition) {
	if deal.ForStream {
		meta.IsStreamGated = true
		meta.StreamConditions = cond
	}
	if deal.ForDownload {
		meta.IsDownloadGated = true
		meta.DownloadConditions = cond
	}
}

func purchaseCondition(src sources.Source, release *ddex.Release, priceUSD *float64, defaultUSD float64) *AccessCondition {
	payTo := src.PayoutUserID
	if payTo == "" {
		payTo = release.CatalogUserID
	}
	price := defaultUSD
	if priceUSD != nil && *priceUSD > 0 {
		price = *priceUSD
	}
	return &AccessCondition{
		USDCPurchase: &USDCPurchase{
			PriceCents: int(math.Round(price * 100)),
			Splits:     []Split{{UserID: payTo, Percentage: 100}},
		},
	}
}

var releaseDateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func firstDate(raws ...string) time.Time {
	for _, raw := range raws {
		for _, layout := range releaseDateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func firstCopyright(lines ...*ddex.CopyrightLine) *ddex.CopyrightLine {
	for _, line := range lines {
		if line != nil {
			return line
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
