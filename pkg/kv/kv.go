// Package kv is a small string key/value store for feed bookmarks and
// generated secrets that don't warrant their own table.
package kv

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type Pair struct {
	bun.BaseModel `bun:"table:kv,alias:kv"`

	Key string `bun:"key,pk" json:"key"`
	Val string `bun:"val" json:"val"`
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) Get(ctx context.Context, key string) (string, error) {
	pair := &Pair{}
	err := svc.db.NewSelect().Model(pair).Where("key = ?", key).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.WithStack(err)
	}
	return pair.Val, nil
}

func (svc *Service) Set(ctx context.Context, key, val string) error {
	_, err := svc.db.
		NewInsert().
		Model(&Pair{Key: key, Val: val}).
		On("CONFLICT (key) DO UPDATE").
		Set("val = EXCLUDED.val").
		Exec(ctx)
	return errors.WithStack(err)
}

// GetOrCreate returns the stored value, generating and persisting a random
// one on first use. Used for instance-scoped secrets like cookie keys.
func (svc *Service) GetOrCreate(ctx context.Context, key string) (string, error) {
	val, err := svc.Get(ctx, key)
	if err != nil || val != "" {
		return val, err
	}
	val = uuid.NewString()
	if err := svc.Set(ctx, key, val); err != nil {
		return "", err
	}
	return val, nil
}
