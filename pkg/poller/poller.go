// Package poller walks delivery buckets and feeds every new document through
// the parser into the release store. Progress is tracked per bucket with a
// lexical marker so an interrupted sweep resumes where it stopped.
package poller

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tonefeed/ddexd/pkg/cursors"
	"github.com/tonefeed/ddexd/pkg/ddex"
	"github.com/tonefeed/ddexd/pkg/releases"
	"github.com/tonefeed/ddexd/pkg/sources"
	"github.com/tonefeed/ddexd/pkg/storage"
	"github.com/tonefeed/ddexd/pkg/xmls"
	"golang.org/x/sync/errgroup"
)

const (
	// prefixBatchSize is how many top-level delivery prefixes are drained
	// before the bucket cursor advances.
	prefixBatchSize = 100
	// fetchFanOut bounds concurrent listing and body fetches per batch.
	fetchFanOut = 8
)

// Receipt identifies a processed delivery for acknowledgement purposes.
type Receipt struct {
	XMLURL           string
	MessageID        string
	MessageTimestamp string
	Releases         []*ddex.Release
}

// Acknowledger sends DDEX acknowledgement receipts back to distributors that
// require them.
type Acknowledger interface {
	ReleaseSuccess(ctx context.Context, src sources.Source, r Receipt) error
	ReleaseFailure(ctx context.Context, src sources.Source, r Receipt, cause error) error
}

type Poller struct {
	store    storage.ObjectStore
	registry *sources.Registry
	parser   *ddex.Parser
	releases *releases.Service
	xmls     *xmls.Service
	cursors  *cursors.Service
	acks     Acknowledger
}

// New returns a Poller. acks may be nil when no source requires
// acknowledgements.
func New(store storage.ObjectStore, registry *sources.Registry, parser *ddex.Parser, rel *releases.Service, xm *xmls.Service, cur *cursors.Service, acks Acknowledger) *Poller {
	return &Poller{
		store:    store,
		registry: registry,
		parser:   parser,
		releases: rel,
		xmls:     xm,
		cursors:  cur,
		acks:     acks,
	}
}

// PollAll sweeps every configured source in registry order. Sources without
// a bucket are skipped. The first storage or database failure aborts the
// sweep so the scheduler can retry without losing cursor consistency.
func (p *Poller) PollAll(ctx context.Context, reset bool) error {
	for _, src := range p.registry.All() {
		if src.Bucket == "" {
			logger.FromContext(ctx).Data(logger.Data{"source": src.Name}).Info("source has no bucket, skipping poll")
			continue
		}
		if err := p.Poll(ctx, src, reset); err != nil {
			return err
		}
	}
	return nil
}

// Poll drains one source's bucket from its stored cursor. Deliveries arrive
// as one folder per batch, so listing with delimiter "/" yields the batch
// prefixes in lexical order; each group of prefixBatchSize prefixes is
// fetched, sorted, and ingested before the cursor moves past it. When reset
// is true the stored cursor is discarded and the bucket is walked from the
// beginning.
func (p *Poller) Poll(ctx context.Context, src sources.Source, reset bool) error {
	log := logger.FromContext(ctx).Data(logger.Data{"source": src.Name, "bucket": src.Bucket})

	marker := ""
	if reset {
		if err := p.cursors.Clear(ctx, src.Bucket); err != nil {
			return err
		}
	} else {
		m, err := p.cursors.Get(ctx, src.Bucket)
		if err != nil {
			return err
		}
		marker = m
	}

	for {
		res, err := p.store.List(ctx, src.Bucket, storage.ListOptions{Delimiter: "/", Marker: marker})
		if err != nil {
			return err
		}

		switch {
		case len(res.CommonPrefixes) > 0:
			log.Data(logger.Data{"prefixes": len(res.CommonPrefixes), "marker": marker}).Info("polling delivery prefixes")
			for start := 0; start < len(res.CommonPrefixes); start += prefixBatchSize {
				end := start + prefixBatchSize
				if end > len(res.CommonPrefixes) {
					end = len(res.CommonPrefixes)
				}
				batch := res.CommonPrefixes[start:end]

				objects, err := p.listPrefixes(ctx, src.Bucket, batch)
				if err != nil {
					return err
				}
				if err := p.processObjects(ctx, src, objects); err != nil {
					return err
				}

				marker = batch[len(batch)-1]
				if err := p.cursors.Set(ctx, src.Bucket, marker); err != nil {
					return err
				}
			}
			// The listing may have been capped; go around again from the
			// new marker.

		case len(res.Objects) > 0:
			// Flat bucket with documents at the root. The cursor tracks
			// the last object key instead of a prefix.
			if err := p.processObjects(ctx, src, res.Objects); err != nil {
				return err
			}
			marker = res.Objects[len(res.Objects)-1].Key
			if err := p.cursors.Set(ctx, src.Bucket, marker); err != nil {
				return err
			}
			if !res.IsTruncated {
				return nil
			}

		default:
			return nil
		}
	}
}

// listPrefixes lists every object under each prefix, following truncated
// pages, with bounded concurrency.
func (p *Poller) listPrefixes(ctx context.Context, bucket string, prefixes []string) ([]storage.Object, error) {
	results := make([][]storage.Object, len(prefixes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchFanOut)
	for i, prefix := range prefixes {
		i, prefix := i, prefix
		g.Go(func() error {
			marker := ""
			for {
				res, err := p.store.List(gctx, bucket, storage.ListOptions{Prefix: prefix, Marker: marker})
				if err != nil {
					return err
				}
				results[i] = append(results[i], res.Objects...)
				if !res.IsTruncated || len(res.Objects) == 0 {
					return nil
				}
				marker = res.Objects[len(res.Objects)-1].Key
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	objects := []storage.Object{}
	for _, r := range results {
		objects = append(objects, r...)
	}
	return objects, nil
}

type document struct {
	key              string
	body             []byte
	messageTimestamp string
}

// processObjects fetches the delivery documents among objects and ingests
// them oldest first. Fetch and parse failures are logged per document; only
// storage-cursor and database failures abort the batch.
func (p *Poller) processObjects(ctx context.Context, src sources.Source, objects []storage.Object) error {
	log := logger.FromContext(ctx).Data(logger.Data{"source": src.Name})

	keys := []string{}
	for _, obj := range objects {
		if !strings.HasSuffix(strings.ToLower(obj.Key), ".xml") {
			continue
		}
		// BatchComplete markers signal the end of a delivery and carry no
		// release data.
		if strings.Contains(strings.ToLower(obj.Key), "batchcomplete") {
			continue
		}
		keys = append(keys, obj.Key)
	}
	if len(keys) == 0 {
		return nil
	}

	fetched := make([]*document, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchFanOut)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			body, err := p.store.Get(gctx, src.Bucket, key)
			if err != nil {
				log.Data(logger.Data{"key": key}).Err(err).Error("failed to fetch delivery document")
				return nil
			}
			fetched[i] = &document{
				key:              key,
				body:             body,
				messageTimestamp: ddex.SniffTimestamp(body),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	docs := []*document{}
	for _, doc := range fetched {
		if doc != nil {
			docs = append(docs, doc)
		}
	}

	// Deliveries reference earlier messages by timestamp, so replay them in
	// message order rather than key order.
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].messageTimestamp < docs[j].messageTimestamp
	})

	for _, doc := range docs {
		if err := p.ingest(ctx, src, doc); err != nil {
			return err
		}
	}
	return nil
}

// ingest records the document and applies it to the release store. A parse
// failure is terminal for the document but not for the batch.
func (p *Poller) ingest(ctx context.Context, src sources.Source, doc *document) error {
	xmlURL := "s3://" + src.Bucket + "/" + doc.key
	log := logger.FromContext(ctx).Data(logger.Data{"xml_url": xmlURL})

	err := p.xmls.Upsert(ctx, &xmls.XML{
		XMLURL:           xmlURL,
		Source:           src.Name,
		MessageTimestamp: doc.messageTimestamp,
	})
	if err != nil {
		return err
	}

	msg, err := p.parser.Parse(ctx, src.Name, doc.body)
	if err != nil {
		log.Err(err).Error("failed to parse delivery document")
		p.acknowledge(ctx, src, Receipt{XMLURL: xmlURL, MessageTimestamp: doc.messageTimestamp}, err)
		return nil
	}

	receipt := Receipt{
		XMLURL:           xmlURL,
		MessageID:        msg.MessageID,
		MessageTimestamp: msg.MessageTimestamp,
		Releases:         msg.Releases,
	}

	switch msg.Kind {
	case ddex.KindManifest:
		// Batch manifests carry no releases.

	case ddex.KindPurge:
		if msg.Purge == nil {
			return nil
		}
		if err := p.releases.MarkForDelete(ctx, src.Name, xmlURL, msg.MessageTimestamp, msg.Purge.ReleaseIDs); err != nil {
			return err
		}

	case ddex.KindNewRelease:
		for _, release := range msg.Releases {
			err := p.releases.Upsert(ctx, src.Name, xmlURL, msg.MessageTimestamp, release)
			if errors.Is(err, releases.ErrNoIdentifier) {
				log.Data(logger.Data{"release_ref": release.Ref}).Err(err).Warn("release has no usable identifier")
				continue
			}
			if err != nil {
				return err
			}
		}
		p.acknowledge(ctx, src, receipt, nil)
	}

	return nil
}

func (p *Poller) acknowledge(ctx context.Context, src sources.Source, receipt Receipt, cause error) {
	if p.acks == nil || !src.SendAcknowledgements {
		return
	}

	var err error
	if cause == nil {
		err = p.acks.ReleaseSuccess(ctx, src, receipt)
	} else {
		err = p.acks.ReleaseFailure(ctx, src, receipt, cause)
	}
	if err != nil {
		// Acknowledgements are best effort; the release is already stored.
		logger.FromContext(ctx).Data(logger.Data{"xml_url": receipt.XMLURL}).Err(err).Error("failed to send acknowledgement")
	}
}
