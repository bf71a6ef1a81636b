package ddex

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tonefeed/ddexd/pkg/genres"
	"github.com/tonefeed/ddexd/pkg/sources"
)

// Parser turns delivery documents into ParsedMessages. It holds no state
// between calls; the user matcher is the only collaborator consulted.
type Parser struct {
	registry *sources.Registry
	users    UserMatcher

	// Now supplies the instant deal validity windows are evaluated at.
	// Overridable in tests.
	Now func() time.Time
}

func NewParser(registry *sources.Registry, users UserMatcher) *Parser {
	return &Parser{
		registry: registry,
		users:    users,
		Now:      time.Now,
	}
}

// Parse decodes one document delivered by the named source. Structural
// defects surface as per-release problems; only an undecodable document or
// an unrecognized root element fails hard.
func (p *Parser) Parse(ctx context.Context, source string, body []byte) (*ParsedMessage, error) {
	root, err := sniffRoot(body)
	if err != nil {
		return nil, err
	}

	header := sniffHeader(body)
	msg := &ParsedMessage{
		MessageID:        strings.TrimSpace(header.Header.MessageID),
		MessageTimestamp: strings.TrimSpace(header.Header.MessageCreatedDateTime),
	}

	switch root.name {
	case "ManifestMessage":
		// Batch marker. Nothing to ingest.
		msg.Kind = KindManifest
		return msg, nil

	case "PurgeReleaseMessage":
		msg.Kind = KindPurge
		purge, err := parsePurge(body)
		if err != nil {
			return nil, err
		}
		msg.Purge = purge
		return msg, nil

	case "NewReleaseMessage":
		msg.Kind = KindNewRelease
		var gen interface {
			decode([]byte, time.Time) (*document, error)
		} = ern3{}
		if strings.Contains(root.namespace, "ddex.net/xml/ern/4") {
			gen = ern4{}
		}
		doc, err := gen.decode(body, p.Now())
		if err != nil {
			return nil, err
		}
		msg.Releases = p.assemble(ctx, source, doc)
		return msg, nil

	default:
		return nil, errors.Errorf("unrecognized root element: %s", root.name)
	}
}

// assemble runs the generation-independent half of parsing: deal promotion,
// resource attachment, genre and user resolution, then the cross-release
// reconciliation pass.
func (p *Parser) assemble(ctx context.Context, source string, doc *document) []*Release {
	log := logger.FromContext(ctx)

	promoteDownloadDeals(doc.deals)

	releases := make([]*Release, 0, len(doc.releases))
	for _, draft := range doc.releases {
		rel := draft.release
		rel.Deals = doc.deals[rel.Ref]
		if rel.Deals == nil {
			rel.Deals = []Deal{}
		}

		// The first deal's validity start is the authoritative street
		// date when present.
		if len(rel.Deals) > 0 && rel.Deals[0].ValidityStartDate != "" {
			rel.ReleaseDate = rel.Deals[0].ValidityStartDate
		}

		for _, ref := range draft.resourceRefs {
			if sr, ok := doc.recordings[ref]; ok {
				rel.SoundRecordings = append(rel.SoundRecordings, sr)
			} else if img, ok := doc.images[ref]; ok {
				rel.Images = append(rel.Images, img)
			} else if _, ok := doc.texts[ref]; ok {
				log.Data(logger.Data{"ref": ref}).Debug("ignoring text resource ref")
			} else {
				// Updates may reference resources from an earlier
				// delivery, so an unmatched ref is not a defect here.
				log.Data(logger.Data{"ref": ref, "release_ref": rel.Ref}).Warn("unmatched resource ref")
			}
		}

		if g, ok := genres.Resolve(rel.Genre, rel.SubGenre); ok {
			rel.CatalogGenre = g
		} else {
			log.Data(logger.Data{"genre": rel.Genre, "sub_genre": rel.SubGenre}).Warn("unresolved genre")
			rel.Problems = append(rel.Problems, ProblemNoGenre)
		}
		for _, sr := range rel.SoundRecordings {
			if g, ok := genres.Resolve(sr.Genre, sr.SubGenre); ok {
				sr.CatalogGenre = g
			}
		}

		if len(rel.Deals) == 0 {
			rel.Problems = append(rel.Problems, ProblemNoDeal)
		}

		p.matchUser(ctx, source, rel)
		releases = append(releases, rel)
	}

	var main *Release
	for _, rel := range releases {
		if rel.IsMainRelease {
			main = rel
			break
		}
	}

	for _, rel := range releases {
		if len(rel.Images) == 0 {
			if main != nil && len(main.Images) > 0 {
				rel.Images = main.Images
			} else {
				rel.Problems = append(rel.Problems, ProblemNoImage)
			}
		}
	}

	// Bundled sub-releases whose tracks are all contained in a healthy
	// main release are duplicates, not independent catalog entries.
	if main != nil && len(main.Problems) == 0 {
		mainRefs := map[string]bool{}
		for _, sr := range main.SoundRecordings {
			mainRefs[sr.Ref] = true
		}
		for _, rel := range releases {
			if rel.IsMainRelease {
				continue
			}
			subset := true
			for _, sr := range rel.SoundRecordings {
				if !mainRefs[sr.Ref] {
					subset = false
					break
				}
			}
			if subset {
				rel.Problems = append(rel.Problems, ProblemDuplicateRelease)
			}
		}
	}

	return releases
}

func (p *Parser) matchUser(ctx context.Context, source string, rel *Release) {
	if p.users == nil || p.registry == nil {
		return
	}
	src, ok := p.registry.FindByName(source)
	if !ok {
		return
	}
	names := make([]string, 0, len(rel.Artists))
	for _, a := range rel.Artists {
		names = append(names, a.Name)
	}
	userID, err := p.users.Match(ctx, src.APIKey, names)
	if err != nil {
		logger.FromContext(ctx).Err(err).Data(logger.Data{"release_ref": rel.Ref}).Error("user match failed")
		return
	}
	rel.CatalogUserID = userID
}

func parsePurge(body []byte) (*PurgeRelease, error) {
	var msg struct {
		PurgedReleases []struct {
			ReleaseIDs []ernReleaseID `xml:"ReleaseId"`
		} `xml:"PurgeList>PurgedRelease"`
		PurgedRelease struct {
			ReleaseIDs []ernReleaseID `xml:"ReleaseId"`
		} `xml:"PurgedRelease"`
	}
	if err := unmarshalAnyRoot(body, &msg); err != nil {
		return nil, err
	}
	ids := msg.PurgedRelease.ReleaseIDs
	if len(msg.PurgedReleases) > 0 {
		ids = msg.PurgedReleases[0].ReleaseIDs
	}
	return &PurgeRelease{ReleaseIDs: mergeReleaseIDs(ids)}, nil
}
