// Package storage abstracts the object store delivery buckets live in. The
// interface mirrors marker/delimiter bucket listing so the poller's cursor
// semantics hold for any implementation.
package storage

import (
	"context"
	"time"
)

// Object is one stored blob.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

type ListOptions struct {
	// Prefix restricts results to keys that start with it.
	Prefix string
	// Delimiter groups keys: everything between Prefix and the next
	// delimiter occurrence collapses into a common prefix.
	Delimiter string
	// Marker returns only keys lexically greater than it.
	Marker string
	// MaxKeys caps the page size. Zero means the implementation default.
	MaxKeys int
}

type ListResult struct {
	Objects        []Object
	CommonPrefixes []string
	IsTruncated    bool
}

// ObjectStore lists and fetches delivery objects. Implementations must
// return keys and common prefixes in lexical order.
type ObjectStore interface {
	List(ctx context.Context, bucket string, opts ListOptions) (*ListResult, error)
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}
