package users

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tonefeed/ddexd/pkg/errcodes"
	"github.com/uptrace/bun"
)

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) Upsert(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	_, err := svc.db.
		NewInsert().
		Model(user).
		On("CONFLICT (api_key, id) DO UPDATE").
		Set("handle = EXCLUDED.handle").
		Set("name = EXCLUDED.name").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) Retrieve(ctx context.Context, id string) (*User, error) {
	user := &User{}
	err := svc.db.NewSelect().Model(user).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errcodes.NotFound("User")
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return user, nil
}

func (svc *Service) List(ctx context.Context, apiKey string) ([]*User, error) {
	var users []*User
	q := svc.db.NewSelect().Model(&users).Order("created_at ASC")
	if apiKey != "" {
		q = q.Where("api_key = ?", apiKey)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	return users, nil
}

// Match finds a user authorized under apiKey whose display name or handle
// matches one of the delivery's artist names, compared as lowercase
// alphanumerics. Returns "" when nothing matches.
func (svc *Service) Match(ctx context.Context, apiKey string, artistNames []string) (string, error) {
	users, err := svc.List(ctx, apiKey)
	if err != nil {
		return "", err
	}

	names := map[string]bool{}
	for _, n := range artistNames {
		if t := lowerAscii(n); t != "" {
			names[t] = true
		}
	}
	for _, u := range users {
		if names[lowerAscii(u.Name)] || names[lowerAscii(u.Handle)] {
			return u.ID, nil
		}
	}
	return "", nil
}

func lowerAscii(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
