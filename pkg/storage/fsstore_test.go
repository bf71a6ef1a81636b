package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedBucket(t *testing.T, root, bucket string, keys []string) {
	t.Helper()
	for _, key := range keys {
		path := filepath.Join(root, bucket, filepath.FromSlash(key))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("body of "+key), 0o644))
	}
}

func TestFSStore_ListDelimiter(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	seedBucket(t, root, "deliveries", []string{
		"20240101T010101/release.xml",
		"20240101T010101/resources/a.wav",
		"20240102T020202/release.xml",
		"20240103T030303/release.xml",
		"manifest.xml",
	})

	store := NewFSStore(root)
	ctx := context.Background()

	res, err := store.List(ctx, "deliveries", ListOptions{Delimiter: "/"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"20240101T010101/",
		"20240102T020202/",
		"20240103T030303/",
	}, res.CommonPrefixes)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "manifest.xml", res.Objects[0].Key)
	assert.False(t, res.IsTruncated)

	// A marker equal to a group skips the whole group.
	res, err = store.List(ctx, "deliveries", ListOptions{Delimiter: "/", Marker: "20240102T020202/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"20240103T030303/"}, res.CommonPrefixes)
}

func TestFSStore_ListPrefix(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	seedBucket(t, root, "deliveries", []string{
		"20240101T010101/release.xml",
		"20240101T010101/resources/a.wav",
		"20240102T020202/release.xml",
	})

	store := NewFSStore(root)

	res, err := store.List(context.Background(), "deliveries", ListOptions{Prefix: "20240101T010101/"})
	require.NoError(t, err)
	require.Len(t, res.Objects, 2)
	assert.Equal(t, "20240101T010101/release.xml", res.Objects[0].Key)
	assert.Equal(t, "20240101T010101/resources/a.wav", res.Objects[1].Key)
}

func TestFSStore_ListTruncation(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	seedBucket(t, root, "deliveries", []string{"a.xml", "b.xml", "c.xml"})

	store := NewFSStore(root)

	res, err := store.List(context.Background(), "deliveries", ListOptions{MaxKeys: 2})
	require.NoError(t, err)
	require.Len(t, res.Objects, 2)
	assert.True(t, res.IsTruncated)

	res, err = store.List(context.Background(), "deliveries", ListOptions{MaxKeys: 2, Marker: res.Objects[1].Key})
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "c.xml", res.Objects[0].Key)
	assert.False(t, res.IsTruncated)
}

func TestFSStore_Get(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	seedBucket(t, root, "deliveries", []string{"20240101T010101/release.xml"})

	store := NewFSStore(root)

	body, err := store.Get(context.Background(), "deliveries", "20240101T010101/release.xml")
	require.NoError(t, err)
	assert.Equal(t, "body of 20240101T010101/release.xml", string(body))

	_, err = store.Get(context.Background(), "deliveries", "missing.xml")
	require.Error(t, err)
}

func TestFSStore_ListMissingBucket(t *testing.T) {
	t.Parallel()
	store := NewFSStore(t.TempDir())

	res, err := store.List(context.Background(), "nope", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Objects)
	assert.Empty(t, res.CommonPrefixes)
}
