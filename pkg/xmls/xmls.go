// Package xmls records every delivery document the poller has processed,
// keyed by its storage URL. The table doubles as an audit trail and as the
// reprocessing worklist.
package xmls

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/tonefeed/ddexd/pkg/errcodes"
	"github.com/uptrace/bun"
)

type XML struct {
	bun.BaseModel `bun:"table:xmls,alias:x"`

	XMLURL           string    `bun:"xml_url,pk" json:"xml_url"`
	Source           string    `bun:"source" json:"source"`
	MessageTimestamp string    `bun:"message_timestamp" json:"message_timestamp"`
	CreatedAt        time.Time `bun:"created_at,nullzero" json:"created_at"`
}

type ListOptions struct {
	// After selects rows with xml_url lexically greater, for cursored
	// reprocessing sweeps.
	After *string
	// Search matches a substring of the URL.
	Search *string
	Limit  *int
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) Upsert(ctx context.Context, row *XML) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	_, err := svc.db.
		NewInsert().
		Model(row).
		On("CONFLICT (xml_url) DO UPDATE").
		Set("source = EXCLUDED.source").
		Set("message_timestamp = EXCLUDED.message_timestamp").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) Retrieve(ctx context.Context, xmlURL string) (*XML, error) {
	row := &XML{}
	err := svc.db.NewSelect().Model(row).Where("xml_url = ?", xmlURL).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errcodes.NotFound("XML")
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return row, nil
}

func (svc *Service) List(ctx context.Context, opts ListOptions) ([]*XML, error) {
	var rows []*XML
	q := svc.db.NewSelect().Model(&rows)

	if opts.Search != nil {
		q = q.Where("xml_url LIKE ?", "%"+*opts.Search+"%").Order("message_timestamp DESC")
	} else {
		q = q.Order("xml_url ASC")
	}
	if opts.After != nil {
		q = q.Where("xml_url > ?", *opts.After)
	}

	limit := 1000
	if opts.Limit != nil {
		limit = *opts.Limit
	}
	q = q.Limit(limit)

	if err := q.Scan(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	return rows, nil
}
