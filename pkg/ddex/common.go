package ddex

import (
	"strconv"
	"strings"
	"time"
)

// document is the generation-independent intermediate form. Each decoder
// fills one of these; assembly into []*Release is shared.
type document struct {
	deals      map[string][]Deal
	recordings map[string]*SoundRecording
	images     map[string]ResourceRef
	texts      map[string]ResourceRef
	releases   []*releaseDraft
}

// releaseDraft pairs a partially built release with the resource references
// it claims, resolved against the resource maps during assembly.
type releaseDraft struct {
	release      *Release
	resourceRefs []string
}

// ernRole handles the DDEX pattern where a role element carries a
// UserDefinedValue attribute that overrides its text content.
type ernRole struct {
	Value            string `xml:",chardata"`
	UserDefinedValue string `xml:"UserDefinedValue,attr"`
}

func (r ernRole) String() string {
	if r.UserDefinedValue != "" {
		return strings.TrimSpace(r.UserDefinedValue)
	}
	return strings.TrimSpace(r.Value)
}

// ernReleaseID mirrors a ReleaseId element. A release may carry several of
// these; mergeReleaseIDs keeps the first non-empty value per identifier.
type ernReleaseID struct {
	PartyID       string `xml:"PartyId"`
	CatalogNumber string `xml:"CatalogNumber"`
	ICPN          string `xml:"ICPN"`
	GRid          string `xml:"GRid"`
	ISAN          string `xml:"ISAN"`
	ISBN          string `xml:"ISBN"`
	ISMN          string `xml:"ISMN"`
	ISRC          string `xml:"ISRC"`
	ISSN          string `xml:"ISSN"`
	ISTC          string `xml:"ISTC"`
	ISWC          string `xml:"ISWC"`
	MWLI          string `xml:"MWLI"`
	SICI          string `xml:"SICI"`
	ProprietaryID string `xml:"ProprietaryId"`
}

func mergeReleaseIDs(ids []ernReleaseID) ReleaseIDs {
	var out ReleaseIDs
	for _, id := range ids {
		setIfEmpty(&out.PartyID, id.PartyID)
		setIfEmpty(&out.CatalogNumber, id.CatalogNumber)
		setIfEmpty(&out.ICPN, id.ICPN)
		setIfEmpty(&out.GRid, id.GRid)
		setIfEmpty(&out.ISAN, id.ISAN)
		setIfEmpty(&out.ISBN, id.ISBN)
		setIfEmpty(&out.ISMN, id.ISMN)
		setIfEmpty(&out.ISRC, id.ISRC)
		setIfEmpty(&out.ISSN, id.ISSN)
		setIfEmpty(&out.ISTC, id.ISTC)
		setIfEmpty(&out.ISWC, id.ISWC)
		setIfEmpty(&out.MWLI, id.MWLI)
		setIfEmpty(&out.SICI, id.SICI)
		setIfEmpty(&out.ProprietaryID, id.ProprietaryID)
	}
	return out
}

func setIfEmpty(dst *string, val string) {
	if *dst == "" && val != "" {
		*dst = strings.TrimSpace(val)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// ernPrice captures a price element whose currency is an attribute.
type ernPrice struct {
	CurrencyCode string `xml:"CurrencyCode,attr"`
	Value        string `xml:",chardata"`
}

func usdPrice(prices []ernPrice) *float64 {
	for _, p := range prices {
		if p.CurrencyCode != "USD" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(p.Value), 64)
		if err != nil || v == 0 {
			continue
		}
		return &v
	}
	return nil
}

// dealTerms is the generation-independent view of one DealTerms block.
type dealTerms struct {
	commercialModelType string
	useTypes            []string
	validityStart       string
	validityEnd         string
	priceUSD            *float64

	chain        string
	address      string
	standard     string
	name         string
	slug         string
	imageURL     string
	externalLink string
}

var dealDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseDealDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dealDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// convertDeal maps one DealTerms block to a Deal, filtering by the validity
// window evaluated at parse time. An unparseable bound imposes no constraint.
func convertDeal(t dealTerms, now time.Time) (Deal, bool) {
	if start, ok := parseDealDate(t.validityStart); ok && now.Before(start) {
		return Deal{}, false
	}
	if end, ok := parseDealDate(t.validityEnd); ok && now.After(end) {
		return Deal{}, false
	}

	deal := Deal{
		ValidityStartDate: strings.TrimSpace(t.validityStart),
		ValidityEndDate:   strings.TrimSpace(t.validityEnd),
	}
	for _, use := range t.useTypes {
		switch strings.TrimSpace(use) {
		case "Stream", "OnDemandStream":
			deal.ForStream = true
		case "PermanentDownload":
			deal.ForDownload = true
		}
	}

	switch t.commercialModelType {
	case "FreeOfChargeModel":
		deal.Type = DealFree
	case "PayAsYouGoModel":
		deal.Type = DealPayGated
		deal.PriceUSD = t.priceUSD
	case "FollowGated":
		deal.Type = DealFollowGated
	case "TipGated":
		deal.Type = DealTipGated
	case "NFTGated":
		chain := strings.TrimSpace(t.chain)
		if chain != "eth" && chain != "sol" {
			return Deal{}, false
		}
		deal.Type = DealNFTGated
		deal.Chain = chain
		deal.Address = strings.TrimSpace(t.address)
		deal.Name = strings.TrimSpace(t.name)
		deal.ImageURL = strings.TrimSpace(t.imageURL)
		deal.ExternalLink = strings.TrimSpace(t.externalLink)
		if chain == "eth" {
			deal.Standard = strings.TrimSpace(t.standard)
			deal.Slug = strings.TrimSpace(t.slug)
		}
	default:
		return Deal{}, false
	}
	return deal, true
}

// promoteDownloadDeals handles the common download-only form of a
// PayAsYouGoModel grant: when a release has download deals but no streaming
// deal at all, the first download deal also becomes a streaming deal.
func promoteDownloadDeals(deals map[string][]Deal) {
	for _, list := range deals {
		hasStream := false
		for i := range list {
			if list[i].ForStream {
				hasStream = true
				break
			}
		}
		if hasStream {
			continue
		}
		for i := range list {
			if list[i].ForDownload {
				list[i].ForStream = true
				break
			}
		}
	}
}
