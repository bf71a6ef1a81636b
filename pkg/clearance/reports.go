package clearance

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tonefeed/ddexd/pkg/storage"
)

// reportPrefix is where the rights feed drops its CSV report files.
const reportPrefix = "outputs/lsr"

// SweepReports reads new report files from the reporting bucket, records
// their per-track verdicts, and refreshes the release counts. Files already
// seen are remembered in the kv table and skipped, so reports are applied
// exactly once even though the feed never removes them.
func (svc *Service) SweepReports(ctx context.Context, store storage.ObjectStore, bucket string) error {
	log := logger.FromContext(ctx).Data(logger.Data{"bucket": bucket})

	marker := ""
	for {
		res, err := store.List(ctx, bucket, storage.ListOptions{Prefix: reportPrefix, Marker: marker})
		if err != nil {
			return err
		}

		for _, obj := range res.Objects {
			if !strings.Contains(strings.ToLower(obj.Key), ".csv") {
				continue
			}

			done, err := svc.kv.Get(ctx, reportBookmark(obj.Key))
			if err != nil {
				return err
			}
			if done != "" {
				continue
			}

			body, err := store.Get(ctx, bucket, obj.Key)
			if err != nil {
				return err
			}
			if strings.HasSuffix(strings.ToLower(obj.Key), ".gz") {
				body, err = gunzip(body)
				if err != nil {
					log.Data(logger.Data{"key": obj.Key}).Err(err).Error("failed to decompress clearance report")
					continue
				}
			}

			if err := svc.readReport(ctx, body); err != nil {
				log.Data(logger.Data{"key": obj.Key}).Err(err).Error("failed to read clearance report")
				continue
			}

			if err := svc.kv.Set(ctx, reportBookmark(obj.Key), time.Now().UTC().Format(time.RFC3339)); err != nil {
				return err
			}
			log.Data(logger.Data{"key": obj.Key}).Info("clearance report recorded")
		}

		if !res.IsTruncated || len(res.Objects) == 0 {
			break
		}
		marker = res.Objects[len(res.Objects)-1].Key
	}

	return svc.UpdateCounts(ctx)
}

func reportBookmark(key string) string {
	return "lsr:" + key
}

// readReport applies one CSV report. Rows belonging to this system carry a
// client_catalog_id of the form ddex_<source>_<releaseKey>_<isrc>; anything
// else in the file is another client's and is ignored.
func (svc *Service) readReport(ctx context.Context, body []byte) error {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return errors.WithStack(err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	if _, ok := col["client_catalog_id"]; !ok {
		return errors.New("clearance report has no client_catalog_id column")
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.WithStack(err)
		}

		id := reportField(record, col, "client_catalog_id")
		if !strings.HasPrefix(id, "ddex") {
			continue
		}
		parts := strings.Split(id, "_")
		if len(parts) < 4 {
			continue
		}

		c := &Clearance{
			ReleaseID: parts[2],
			TrackID:   parts[3],
			IsMatched: reportBool(record, col, "is_matched"),
			IsCleared: reportBool(record, col, "is_cleared"),
		}
		if err := svc.Upsert(ctx, c); err != nil {
			return err
		}
	}
}

func reportField(record []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func reportBool(record []string, col map[string]int, name string) bool {
	switch strings.ToLower(reportField(record, col, name)) {
	case "y", "yes", "true", "1":
		return true
	}
	return false
}

func gunzip(body []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	return out, errors.WithStack(err)
}
