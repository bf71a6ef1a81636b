package ddex

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ern4 decodes the 4.x layout. Names are indirected through the party list
// and file locations collapse to a single URI per delivery file.
type ern4 struct{}

type ern4Message struct {
	Parties         []ern4Party          `xml:"PartyList>Party"`
	SoundRecordings []ern4SoundRecording `xml:"ResourceList>SoundRecording"`
	Images          []ern4Resource       `xml:"ResourceList>Image"`
	Texts           []ern4Resource       `xml:"ResourceList>Text"`
	Releases        []ern4Release        `xml:"ReleaseList>Release"`
	Deals           []ern4ReleaseDeal    `xml:"DealList>ReleaseDeal"`
}

type ern4Party struct {
	PartyReference string          `xml:"PartyReference"`
	PartyNames     []ern4PartyName `xml:"PartyName"`
}

type ern4PartyName struct {
	FullName string `xml:"FullName"`
}

// partyTable maps party references to display names. Unknown references
// resolve to the reference itself so a malformed party list degrades to
// visible ids instead of blank names.
type partyTable map[string]string

func (t partyTable) name(ref string) string {
	ref = strings.TrimSpace(ref)
	if name, ok := t[ref]; ok && name != "" {
		return name
	}
	return ref
}

type ern4Title struct {
	TitleText string `xml:"TitleText"`
	SubTitle  string `xml:"SubTitle"`
}

type ern4DisplayArtist struct {
	ArtistPartyReference string `xml:"ArtistPartyReference"`
	DisplayArtistRole    string `xml:"DisplayArtistRole"`
}

type ern4Contributor struct {
	ContributorPartyReference string    `xml:"ContributorPartyReference"`
	Roles                     []ernRole `xml:"Role"`
}

type ern4CLine struct {
	Year string `xml:"Year"`
	Text string `xml:"CLineText"`
}

type ern4PLine struct {
	Year string `xml:"Year"`
	Text string `xml:"PLineText"`
}

type ern4Genre struct {
	GenreText string `xml:"GenreText"`
}

type ern4RightsController struct {
	RightsControllerPartyReference string   `xml:"RightsControllerPartyReference"`
	Roles                          []string `xml:"RightsControllerRole"`
}

type ern4SoundRecording struct {
	ResourceReference    string                 `xml:"ResourceReference"`
	Editions             []ern4Edition          `xml:"SoundRecordingEdition"`
	DisplayTitle         ern4Title              `xml:"DisplayTitle"`
	DisplayArtists       []ern4DisplayArtist    `xml:"DisplayArtist"`
	Contributors         []ern4Contributor      `xml:"Contributor"`
	Duration             string                 `xml:"Duration"`
	FirstPublicationDate string                 `xml:"FirstPublicationDate"`
	ParentalWarningType  string                 `xml:"ParentalWarningType"`
	Genres               []ern4Genre            `xml:"Genre"`
	RightsControllers    []ern4RightsController `xml:"RightsController"`
	CLine                ern4CLine              `xml:"CLine"`
	PLine                ern4PLine              `xml:"PLine"`
}

type ern4Edition struct {
	ISRCs            []string               `xml:"ResourceId>ISRC"`
	TechnicalDetails []ern4EditionTechnical `xml:"TechnicalDetails"`
}

type ern4EditionTechnical struct {
	DeliveryFileURI string `xml:"DeliveryFile>File>URI"`
	ClipStartPoint  string `xml:"ClipDetails>Timing>StartPoint"`
}

type ern4Resource struct {
	ResourceReference string                  `xml:"ResourceReference"`
	TechnicalDetails  []ern4ResourceTechnical `xml:"TechnicalDetails"`
}

type ern4ResourceTechnical struct {
	FileURI string `xml:"File>URI"`
}

type ern4Release struct {
	IsMainRelease string `xml:"IsMainRelease,attr"`

	ReleaseReference       string              `xml:"ReleaseReference"`
	ReleaseTypes           []string            `xml:"ReleaseType"`
	ReleaseIDs             []ernReleaseID      `xml:"ReleaseId"`
	DisplayTitle           ern4Title           `xml:"DisplayTitle"`
	DisplayArtists         []ern4DisplayArtist `xml:"DisplayArtist"`
	Contributors           []ern4Contributor   `xml:"Contributor"`
	ReleaseLabelReferences []string            `xml:"ReleaseLabelReference"`
	Genres                 []ern4Genre         `xml:"Genre"`
	OriginalReleaseDate    string              `xml:"OriginalReleaseDate"`
	ParentalWarningType    string              `xml:"ParentalWarningType"`

	CLine ern4CLine `xml:"CLine"`
	PLine ern4PLine `xml:"PLine"`

	ResourceGroup      *ern4ResourceGroup `xml:"ResourceGroup"`
	LinkedResourceRefs []string           `xml:"LinkedReleaseResourceReference"`
}

type ern4ResourceGroup struct {
	ContentItems []ern4ContentItem   `xml:"ResourceGroupContentItem"`
	Subgroups    []ern4ResourceGroup `xml:"ResourceGroup"`
	LinkedRefs   []string            `xml:"LinkedReleaseResourceReference"`
}

type ern4ContentItem struct {
	ReleaseResourceReference string `xml:"ReleaseResourceReference"`
}

// refs walks nested resource groups depth first, preserving document order.
func (g *ern4ResourceGroup) refs() []string {
	if g == nil {
		return nil
	}
	var out []string
	for _, item := range g.ContentItems {
		if ref := strings.TrimSpace(item.ReleaseResourceReference); ref != "" {
			out = append(out, ref)
		}
	}
	for i := range g.Subgroups {
		out = append(out, g.Subgroups[i].refs()...)
	}
	out = append(out, trimAll(g.LinkedRefs)...)
	return out
}

type ern4ReleaseDeal struct {
	ReleaseReferences     []string   `xml:"ReleaseReference"`
	DealReleaseReferences []string   `xml:"DealReleaseReference"`
	Deals                 []ern4Deal `xml:"Deal"`
}

type ern4Deal struct {
	DealTerms []ern4DealTerms `xml:"DealTerms"`
}

type ern4DealTerms struct {
	CommercialModelType ernRole    `xml:"CommercialModelType"`
	UseTypes            []string   `xml:"UseType"`
	TerritoryCodes      []string   `xml:"TerritoryCode"`
	ValidityStart       string     `xml:"ValidityPeriod>StartDateTime"`
	ValidityEnd         string     `xml:"ValidityPeriod>EndDateTime"`
	Prices              []ernPrice `xml:"PriceInformation>WholesalePricePerUnit"`

	Chain        string `xml:"Chain"`
	Address      string `xml:"Address"`
	Standard     string `xml:"Standard"`
	Name         string `xml:"Name"`
	Slug         string `xml:"Slug"`
	ImageURL     string `xml:"ImageUrl"`
	ExternalLink string `xml:"ExternalLink"`
}

func (ern4) decode(body []byte, now time.Time) (*document, error) {
	var msg ern4Message
	if err := xml.Unmarshal(body, &msg); err != nil {
		return nil, errors.WithStack(err)
	}

	parties := partyTable{}
	for _, p := range msg.Parties {
		if len(p.PartyNames) == 0 {
			continue
		}
		parties[strings.TrimSpace(p.PartyReference)] = strings.TrimSpace(p.PartyNames[0].FullName)
	}

	doc := &document{
		deals:      map[string][]Deal{},
		recordings: map[string]*SoundRecording{},
		images:     map[string]ResourceRef{},
		texts:      map[string]ResourceRef{},
	}

	for _, rd := range msg.Deals {
		ref := firstNonEmpty(append(rd.DealReleaseReferences, rd.ReleaseReferences...)...)
		if ref == "" {
			continue
		}
		for _, d := range rd.Deals {
			for _, t := range d.DealTerms {
				// A long explicit territory list stands in for Worldwide.
				if !containsTerritory(t.TerritoryCodes, "Worldwide") && len(t.TerritoryCodes) <= 100 {
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
		doc.recordings[strings.TrimSpace(sr.ResourceReference)] = convertERN4Recording(sr, parties)
	}
	for _, img := range msg.Images {
		ref := strings.TrimSpace(img.ResourceReference)
		doc.images[ref] = convertERN4Resource(ref, img)
	}
	for _, txt := range msg.Texts {
		ref := strings.TrimSpace(txt.ResourceReference)
		doc.texts[ref] = convertERN4Resource(ref, txt)
	}

	for i := range msg.Releases {
		doc.releases = append(doc.releases, convertERN4Release(&msg.Releases[i], parties))
	}
	return doc, nil
}

func convertERN4Recording(sr ern4SoundRecording, parties partyTable) *SoundRecording {
	out := &SoundRecording{
		ResourceRef:         ResourceRef{Ref: strings.TrimSpace(sr.ResourceReference)},
		Title:               strings.TrimSpace(sr.DisplayTitle.TitleText),
		SubTitle:            strings.TrimSpace(sr.DisplayTitle.SubTitle),
		ReleaseDate:         strings.TrimSpace(sr.FirstPublicationDate),
		ParentalWarningType: strings.TrimSpace(sr.ParentalWarningType),
		CopyrightLine:       copyrightLine(sr.CLine.Year, sr.CLine.Text),
		ProducerCopyright:   copyrightLine(sr.PLine.Year, sr.PLine.Text),
	}
	if len(sr.Genres) > 0 {
		out.Genre = strings.TrimSpace(sr.Genres[0].GenreText)
	}
	if secs, ok := parseISODuration(strings.TrimSpace(sr.Duration)); ok {
		out.DurationSeconds = secs
	}
	for _, a := range sr.DisplayArtists {
		out.Artists = append(out.Artists, Contributor{
			Name: parties.name(a.ArtistPartyReference),
			Role: strings.TrimSpace(a.DisplayArtistRole),
		})
	}
	for _, c := range sr.Contributors {
		role := ""
		if len(c.Roles) > 0 {
			role = c.Roles[0].String()
		}
		out.Contributors = append(out.Contributors, Contributor{
			Name: parties.name(c.ContributorPartyReference),
			Role: role,
		})
	}
	if len(sr.RightsControllers) > 0 {
		rc := sr.RightsControllers[0]
		out.RightsController = &RightsController{
			Name:  parties.name(rc.RightsControllerPartyReference),
			Roles: trimAll(rc.Roles),
		}
	}
	for _, ed := range sr.Editions {
		if len(ed.ISRCs) > 0 {
			setIfEmpty(&out.ISRC, ed.ISRCs[0])
		}
		for _, td := range ed.TechnicalDetails {
			if uri := strings.TrimSpace(td.DeliveryFileURI); uri != "" && out.FileName == "" {
				out.FilePath, out.FileName = splitURI(uri)
			}
			if out.PreviewStartSeconds == nil {
				if ms, err := strconv.Atoi(strings.TrimSpace(td.ClipStartPoint)); err == nil {
					secs := ms / 1000
					out.PreviewStartSeconds = &secs
				}
			}
		}
	}
	return out
}

func convertERN4Resource(ref string, res ern4Resource) ResourceRef {
	out := ResourceRef{Ref: ref}
	for _, td := range res.TechnicalDetails {
		if uri := strings.TrimSpace(td.FileURI); uri != "" {
			out.FilePath, out.FileName = splitURI(uri)
			break
		}
	}
	return out
}

func convertERN4Release(rel *ern4Release, parties partyTable) *releaseDraft {
	out := &Release{
		Ref:                 strings.TrimSpace(rel.ReleaseReference),
		Title:               strings.TrimSpace(rel.DisplayTitle.TitleText),
		SubTitle:            strings.TrimSpace(rel.DisplayTitle.SubTitle),
		ReleaseIDs:          mergeReleaseIDs(rel.ReleaseIDs),
		ReleaseDate:         strings.TrimSpace(rel.OriginalReleaseDate),
		IsMainRelease:       rel.IsMainRelease == "true",
		ParentalWarningType: strings.TrimSpace(rel.ParentalWarningType),
		CopyrightLine:       copyrightLine(rel.CLine.Year, rel.CLine.Text),
		ProducerCopyright:   copyrightLine(rel.PLine.Year, rel.PLine.Text),
		Problems:            []string{},
		SoundRecordings:     []*SoundRecording{},
		Images:              []ResourceRef{},
	}
	if len(rel.ReleaseTypes) > 0 {
		out.ReleaseType = strings.TrimSpace(rel.ReleaseTypes[0])
	}
	if len(rel.Genres) > 0 {
		out.Genre = strings.TrimSpace(rel.Genres[0].GenreText)
	}
	if len(rel.ReleaseLabelReferences) > 0 {
		if name, ok := parties[strings.TrimSpace(rel.ReleaseLabelReferences[0])]; ok {
			out.LabelName = name
		}
	}
	for _, a := range rel.DisplayArtists {
		out.Artists = append(out.Artists, Contributor{
			Name: parties.name(a.ArtistPartyReference),
			Role: strings.TrimSpace(a.DisplayArtistRole),
		})
	}
	for _, c := range rel.Contributors {
		role := ""
		if len(c.Roles) > 0 {
			role = c.Roles[0].String()
		}
		out.Contributors = append(out.Contributors, Contributor{
			Name: parties.name(c.ContributorPartyReference),
			Role: role,
		})
	}

	refs := rel.ResourceGroup.refs()
	refs = append(refs, trimAll(rel.LinkedResourceRefs)...)
	return &releaseDraft{release: out, resourceRefs: refs}
}

// splitURI separates a delivery URI into directory (trailing slash kept) and
// file name components.
func splitURI(uri string) (string, string) {
	idx := strings.LastIndex(uri, "/")
	if idx == -1 {
		return "", uri
	}
	return uri[:idx+1], uri[idx+1:]
}
