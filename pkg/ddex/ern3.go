package ddex

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ern3 decodes the 3.8 layout, where per-territory detail blocks carry most
// of the descriptive fields and names are spelled out inline.
type ern3 struct{}

type ern3Message struct {
	Parties         []ern3Party          `xml:"PartyList>Party"`
	SoundRecordings []ern3SoundRecording `xml:"ResourceList>SoundRecording"`
	Images          []ern3Resource       `xml:"ResourceList>Image"`
	Texts           []ern3Resource       `xml:"ResourceList>Text"`
	Releases        []ern3Release        `xml:"ReleaseList>Release"`
	Deals           []ern3ReleaseDeal    `xml:"DealList>ReleaseDeal"`
}

type ern3Party struct {
	PartyReference string `xml:"PartyReference"`
	FullName       string `xml:"PartyName>FullName"`
}

type ern3Title struct {
	TitleText string `xml:"TitleText"`
	SubTitle  string `xml:"SubTitle"`
}

type ern3Artist struct {
	FullName string  `xml:"PartyName>FullName"`
	Role     ernRole `xml:"ArtistRole"`
}

type ern3ResourceContributor struct {
	FullName string  `xml:"PartyName>FullName"`
	Role     ernRole `xml:"ResourceContributorRole"`
}

type ern3IndirectContributor struct {
	FullName string  `xml:"PartyName>FullName"`
	Role     ernRole `xml:"IndirectResourceContributorRole"`
}

type ern3CLine struct {
	Year string `xml:"Year"`
	Text string `xml:"CLineText"`
}

type ern3PLine struct {
	Year string `xml:"Year"`
	Text string `xml:"PLineText"`
}

type ern3Genre struct {
	GenreText string `xml:"GenreText"`
	SubGenre  string `xml:"SubGenre"`
}

type ern3File struct {
	FilePath string `xml:"FilePath"`
	FileName string `xml:"FileName"`
}

type ern3RightsController struct {
	FullName string   `xml:"PartyName>FullName"`
	Roles    []string `xml:"RightsControllerRole"`
}

type ern3SoundRecording struct {
	ResourceReference string                      `xml:"ResourceReference"`
	ISRC              string                      `xml:"SoundRecordingId>ISRC"`
	ReferenceTitle    ern3Title                   `xml:"ReferenceTitle"`
	Duration          string                      `xml:"Duration"`
	Details           []ern3SoundRecordingDetails `xml:"SoundRecordingDetailsByTerritory"`
}

type ern3SoundRecordingDetails struct {
	Titles               []ern3Title               `xml:"Title"`
	DisplayArtists       []ern3Artist              `xml:"DisplayArtist"`
	Contributors         []ern3ResourceContributor `xml:"ResourceContributor"`
	IndirectContributors []ern3IndirectContributor `xml:"IndirectResourceContributor"`
	RightsControllers    []ern3RightsController    `xml:"RightsController"`
	LabelName            string                    `xml:"LabelName"`
	CLine                ern3CLine                 `xml:"CLine"`
	PLine                ern3PLine                 `xml:"PLine"`
	Genres               []ern3Genre               `xml:"Genre"`
	ParentalWarningType  string                    `xml:"ParentalWarningType"`
	OriginalReleaseDate  string                    `xml:"OriginalResourceReleaseDate"`
	ResourceReleaseDate  string                    `xml:"ResourceReleaseDate"`
	TechnicalDetails     []ern3TechnicalDetails    `xml:"TechnicalSoundRecordingDetails"`
}

type ern3TechnicalDetails struct {
	File              ern3File `xml:"File"`
	PreviewStartPoint string   `xml:"PreviewDetails>StartPoint"`
}

type ern3Resource struct {
	ResourceReference string                `xml:"ResourceReference"`
	ImageDetails      []ern3ResourceDetails `xml:"ImageDetailsByTerritory"`
	TextDetails       []ern3ResourceDetails `xml:"TextDetailsByTerritory"`
}

type ern3ResourceDetails struct {
	ImageFiles []ern3File `xml:"TechnicalImageDetails>File"`
	TextFiles  []ern3File `xml:"TechnicalTextDetails>File"`
}

type ern3Release struct {
	IsMainRelease string `xml:"IsMainRelease,attr"`

	ReleaseReference string         `xml:"ReleaseReference"`
	ReleaseIDs       []ernReleaseID `xml:"ReleaseId"`
	ReferenceTitle   ern3Title      `xml:"ReferenceTitle"`
	ReleaseType      string         `xml:"ReleaseType"`
	ResourceRefs     []string       `xml:"ReleaseResourceReferenceList>ReleaseResourceReference"`

	ReleaseDate               string `xml:"ReleaseDate"`
	GlobalOriginalReleaseDate string `xml:"GlobalOriginalReleaseDate"`
	OriginalReleaseDate       string `xml:"OriginalReleaseDate"`

	CLine ern3CLine `xml:"CLine"`
	PLine ern3PLine `xml:"PLine"`

	Details []ern3ReleaseDetails `xml:"ReleaseDetailsByTerritory"`
}

type ern3ReleaseDetails struct {
	DisplayArtists       []ern3Artist              `xml:"DisplayArtist"`
	Contributors         []ern3ResourceContributor `xml:"ResourceContributor"`
	IndirectContributors []ern3IndirectContributor `xml:"IndirectResourceContributor"`
	LabelName            string                    `xml:"LabelName"`
	Titles               []ern3Title               `xml:"Title"`
	Genres               []ern3Genre               `xml:"Genre"`
	ParentalWarningType  string                    `xml:"ParentalWarningType"`
	ReleaseDate          string                    `xml:"ReleaseDate"`
	OriginalReleaseDate  string                    `xml:"OriginalReleaseDate"`
	CLine                ern3CLine                 `xml:"CLine"`
	PLine                ern3PLine                 `xml:"PLine"`
}

type ern3ReleaseDeal struct {
	ReleaseReferences []string   `xml:"DealReleaseReference"`
	Deals             []ern3Deal `xml:"Deal"`
}

type ern3Deal struct {
	DealTerms []ern3DealTerms `xml:"DealTerms"`
}

type ern3DealTerms struct {
	CommercialModelType ernRole    `xml:"CommercialModelType"`
	UseTypes            []string   `xml:"Usage>UseType"`
	TerritoryCodes      []string   `xml:"TerritoryCode"`
	ValidityStart       string     `xml:"ValidityPeriod>StartDate"`
	ValidityEnd         string     `xml:"ValidityPeriod>EndDate"`
	Prices              []ernPrice `xml:"PriceInformation>WholesalePricePerUnit"`

	Chain        string `xml:"Chain"`
	Address      string `xml:"Address"`
	Standard     string `xml:"Standard"`
	Name         string `xml:"Name"`
	Slug         string `xml:"Slug"`
	ImageURL     string `xml:"ImageUrl"`
	ExternalLink string `xml:"ExternalLink"`
}

func (ern3) decode(body []byte, now time.Time) (*document, error) {
	var msg ern3Message
	if err := xml.Unmarshal(body, &msg); err != nil {
		return nil, errors.WithStack(err)
	}

	doc := &document{
		deals:      map[string][]Deal{},
		recordings: map[string]*SoundRecording{},
		images:     map[string]ResourceRef{},
		texts:      map[string]ResourceRef{},
	}

	for _, rd := range msg.Deals {
		if len(rd.ReleaseReferences) == 0 {
			continue
		}
		ref := strings.TrimSpace(rd.ReleaseReferences[0])
		for _, d := range rd.Deals {
			for _, t := range d.DealTerms {
				if !containsTerritory(t.TerritoryCodes, "Worldwide") {
					continue
				}
				deal, ok := convertDeal(dealTerms{
					commercialModelType: t.CommercialModelType.String(),
					useTypes:            t.UseTypes,
					validityStart:       t.ValidityStart,
					validityEnd:         t.ValidityEnd,
					priceUSD:            usdPrice(t.Prices),
					chain:               t.Chain,
					address:             t.Address,
					standard:            t.Standard,
					name:                t.Name,
					slug:                t.Slug,
					imageURL:            t.ImageURL,
					externalLink:        t.ExternalLink,
				}, now)
				if ok {
					doc.deals[ref] = append(doc.deals[ref], deal)
				}
			}
		}
	}

	for _, sr := range msg.SoundRecordings {
		doc.recordings[strings.TrimSpace(sr.ResourceReference)] = convertERN3Recording(sr)
	}
	for _, img := range msg.Images {
		ref := strings.TrimSpace(img.ResourceReference)
		doc.images[ref] = convertERN3Resource(ref, img)
	}
	for _, txt := range msg.Texts {
		ref := strings.TrimSpace(txt.ResourceReference)
		doc.texts[ref] = convertERN3Resource(ref, txt)
	}

	for i := range msg.Releases {
		doc.releases = append(doc.releases, convertERN3Release(&msg.Releases[i]))
	}
	return doc, nil
}

func convertERN3Recording(sr ern3SoundRecording) *SoundRecording {
	out := &SoundRecording{
		ResourceRef: ResourceRef{Ref: strings.TrimSpace(sr.ResourceReference)},
		ISRC:        strings.TrimSpace(sr.ISRC),
		Title:       strings.TrimSpace(sr.ReferenceTitle.TitleText),
		SubTitle:    strings.TrimSpace(sr.ReferenceTitle.SubTitle),
	}
	if secs, ok := parseISODuration(strings.TrimSpace(sr.Duration)); ok {
		out.DurationSeconds = secs
	}

	var genreEls []ern3Genre
	for _, d := range sr.Details {
		for _, t := range d.Titles {
			setIfEmpty(&out.Title, t.TitleText)
			setIfEmpty(&out.SubTitle, t.SubTitle)
		}
		for _, a := range d.DisplayArtists {
			out.Artists = append(out.Artists, Contributor{Name: strings.TrimSpace(a.FullName), Role: a.Role.String()})
		}
		for _, c := range d.Contributors {
			out.Contributors = append(out.Contributors, Contributor{Name: strings.TrimSpace(c.FullName), Role: c.Role.String()})
		}
		for _, c := range d.IndirectContributors {
			out.IndirectContributors = append(out.IndirectContributors, Contributor{Name: strings.TrimSpace(c.FullName), Role: c.Role.String()})
		}
		if out.RightsController == nil && len(d.RightsControllers) > 0 {
			rc := d.RightsControllers[0]
			out.RightsController = &RightsController{
				Name:  strings.TrimSpace(rc.FullName),
				Roles: trimAll(rc.Roles),
			}
		}
		setIfEmpty(&out.LabelName, d.LabelName)
		setIfEmpty(&out.ParentalWarningType, d.ParentalWarningType)
		setIfEmpty(&out.ReleaseDate, firstNonEmpty(d.OriginalReleaseDate, d.ResourceReleaseDate))
		if out.CopyrightLine == nil {
			out.CopyrightLine = copyrightLine(d.CLine.Year, d.CLine.Text)
		}
		if out.ProducerCopyright == nil {
			out.ProducerCopyright = copyrightLine(d.PLine.Year, d.PLine.Text)
		}
		genreEls = append(genreEls, d.Genres...)
		for _, td := range d.TechnicalDetails {
			setIfEmpty(&out.FilePath, td.File.FilePath)
			setIfEmpty(&out.FileName, td.File.FileName)
			if out.PreviewStartSeconds == nil {
				if secs, err := strconv.Atoi(strings.TrimSpace(td.PreviewStartPoint)); err == nil {
					out.PreviewStartSeconds = &secs
				}
			}
		}
	}
	out.Genre, out.SubGenre = ern3Genres(genreEls)
	return out
}

// ern3Genres flattens the per-territory genre elements. When no explicit
// SubGenre is present the second listed genre serves as the subgenre.
func ern3Genres(els []ern3Genre) (string, string) {
	var genres, subGenres []string
	for _, g := range els {
		if v := strings.TrimSpace(g.GenreText); v != "" {
			genres = append(genres, v)
		}
		if v := strings.TrimSpace(g.SubGenre); v != "" {
			subGenres = append(subGenres, v)
		}
	}
	if len(subGenres) == 0 && len(genres) > 1 {
		subGenres = genres[1:]
	}
	genre, subGenre := "", ""
	if len(genres) > 0 {
		genre = genres[0]
	}
	if len(subGenres) > 0 {
		subGenre = subGenres[0]
	}
	return genre, subGenre
}

func convertERN3Resource(ref string, res ern3Resource) ResourceRef {
	out := ResourceRef{Ref: ref}
	details := res.ImageDetails
	if len(details) == 0 {
		details = res.TextDetails
	}
	for _, d := range details {
		files := d.ImageFiles
		if len(files) == 0 {
			files = d.TextFiles
		}
		for _, f := range files {
			setIfEmpty(&out.FilePath, f.FilePath)
			setIfEmpty(&out.FileName, f.FileName)
		}
	}
	return out
}

func convertERN3Release(rel *ern3Release) *releaseDraft {
	out := &Release{
		Ref:               strings.TrimSpace(rel.ReleaseReference),
		Title:             strings.TrimSpace(rel.ReferenceTitle.TitleText),
		SubTitle:          strings.TrimSpace(rel.ReferenceTitle.SubTitle),
		ReleaseType:       strings.TrimSpace(rel.ReleaseType),
		ReleaseIDs:        mergeReleaseIDs(rel.ReleaseIDs),
		ReleaseDate:       firstNonEmpty(rel.ReleaseDate, rel.GlobalOriginalReleaseDate, rel.OriginalReleaseDate),
		IsMainRelease:     rel.IsMainRelease == "true",
		CopyrightLine:     copyrightLine(rel.CLine.Year, rel.CLine.Text),
		ProducerCopyright: copyrightLine(rel.PLine.Year, rel.PLine.Text),
		Problems:          []string{},
		SoundRecordings:   []*SoundRecording{},
		Images:            []ResourceRef{},
	}

	var genreEls []ern3Genre
	for _, d := range rel.Details {
		for _, t := range d.Titles {
			setIfEmpty(&out.Title, t.TitleText)
			setIfEmpty(&out.SubTitle, t.SubTitle)
		}
		for _, a := range d.DisplayArtists {
			out.Artists = append(out.Artists, Contributor{Name: strings.TrimSpace(a.FullName), Role: a.Role.String()})
		}
		for _, c := range d.Contributors {
			out.Contributors = append(out.Contributors, Contributor{Name: strings.TrimSpace(c.FullName), Role: c.Role.String()})
		}
		for _, c := range d.IndirectContributors {
			out.IndirectContributors = append(out.IndirectContributors, Contributor{Name: strings.TrimSpace(c.FullName), Role: c.Role.String()})
		}
		setIfEmpty(&out.LabelName, d.LabelName)
		setIfEmpty(&out.ParentalWarningType, d.ParentalWarningType)
		setIfEmpty(&out.ReleaseDate, firstNonEmpty(d.ReleaseDate, d.OriginalReleaseDate))
		if out.CopyrightLine == nil {
			out.CopyrightLine = copyrightLine(d.CLine.Year, d.CLine.Text)
		}
		if out.ProducerCopyright == nil {
			out.ProducerCopyright = copyrightLine(d.PLine.Year, d.PLine.Text)
		}
		genreEls = append(genreEls, d.Genres...)
	}
	out.Genre, out.SubGenre = ern3Genres(genreEls)

	return &releaseDraft{release: out, resourceRefs: trimAll(rel.ResourceRefs)}
}

func copyrightLine(year, text string) *CopyrightLine {
	year, text = strings.TrimSpace(year), strings.TrimSpace(text)
	if year == "" || text == "" {
		return nil
	}
	return &CopyrightLine{Year: year, Text: text}
}

func containsTerritory(codes []string, want string) bool {
	for _, c := range codes {
		if strings.TrimSpace(c) == want {
			return true
		}
	}
	return false
}

func trimAll(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
