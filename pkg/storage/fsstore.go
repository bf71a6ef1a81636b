package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

const defaultMaxKeys = 1000

// FSStore serves buckets out of subdirectories of a root directory. It is
// the store used in development and tests; deliveries are dropped into
// <root>/<bucket>/... by hand or by a sync job.
type FSStore struct {
	root string
}

func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

func (s *FSStore) List(_ context.Context, bucket string, opts ListOptions) (*ListResult, error) {
	base := filepath.Join(s.root, bucket)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return &ListResult{}, nil
	}

	var keys []string
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	sort.Strings(keys)

	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}

	result := &ListResult{}
	seenPrefixes := map[string]bool{}
	count := 0

	for _, key := range keys {
		if opts.Prefix != "" && !strings.HasPrefix(key, opts.Prefix) {
			continue
		}

		// Roll keys up into their delimiter group first; the marker is
		// compared against the group, not the key, so a marker that is
		// itself a group skips the whole group.
		group := ""
		if opts.Delimiter != "" {
			rest := strings.TrimPrefix(key, opts.Prefix)
			if idx := strings.Index(rest, opts.Delimiter); idx >= 0 {
				group = opts.Prefix + rest[:idx+len(opts.Delimiter)]
			}
		}

		if group != "" {
			if opts.Marker != "" && group <= opts.Marker {
				continue
			}
			if !seenPrefixes[group] {
				if count >= maxKeys {
					result.IsTruncated = true
					break
				}
				seenPrefixes[group] = true
				result.CommonPrefixes = append(result.CommonPrefixes, group)
				count++
			}
			continue
		}

		if opts.Marker != "" && key <= opts.Marker {
			continue
		}
		if count >= maxKeys {
			result.IsTruncated = true
			break
		}
		info, err := os.Stat(filepath.Join(base, filepath.FromSlash(key)))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		result.Objects = append(result.Objects, Object{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		count++
	}

	return result, nil
}

func (s *FSStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	body, err := os.ReadFile(filepath.Join(s.root, bucket, filepath.FromSlash(key)))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return body, nil
}
