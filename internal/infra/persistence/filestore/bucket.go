// Package filestore keeps one JSON file per entity under a root directory.
// Writes go to a temporary file that is renamed into place.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"persistkit/internal/infra/persistence/kv"
	"persistkit/pkg/domain"
	"sort"
	"strings"
)

var _ kv.Bucket = (*Bucket)(nil)

// DefaultRoot is used when no root is given.
const DefaultRoot = "./persistkit-data"

const fileSuffix = ".json"

// Bucket implements kv.Bucket on a directory. Object keys map to flat,
// escaped file names so arbitrary string IDs cannot escape the root.
type Bucket struct {
	root string
}

// New returns a bucket rooted at root, creating the directory if needed.
func New(root string) (*Bucket, error) {
	if root == "" {
		root = DefaultRoot
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	return &Bucket{root: root}, nil
}

// NewStore opens the bucket and wraps it as a domain.Store.
func NewStore(root string, registry *domain.Registry) (*kv.Store, error) {
	b, err := New(root)
	if err != nil {
		return nil, err
	}
	return kv.New(b, registry, ""), nil
}

// Root returns the directory holding the entity files.
func (b *Bucket) Root() string { return b.root }

// fileName escapes key into a single path element.
func fileName(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	return strings.ReplaceAll(url.PathEscape(key), ".", "%2E") + fileSuffix, nil
}

func keyFromFile(name string) (string, bool) {
	base, ok := strings.CutSuffix(name, fileSuffix)
	if !ok {
		return "", false
	}
	key, err := url.PathUnescape(base)
	if err != nil {
		return "", false
	}
	return key, true
}

func (b *Bucket) pathFor(key string) (string, error) {
	name, err := fileName(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.root, name), nil
}

// Get implements kv.Bucket.
func (b *Bucket) Get(_ context.Context, key string) ([]byte, bool, error) {
	path, err := b.pathFor(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path) // #nosec G304: name escaped by fileName
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Put implements kv.Bucket.
func (b *Bucket) Put(_ context.Context, key string, value []byte) error {
	path, err := b.pathFor(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.root, ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Delete implements kv.Bucket. Deleting a missing key is not an error.
func (b *Bucket) Delete(_ context.Context, key string) error {
	path, err := b.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the stored keys with the given prefix in sorted order.
func (b *Bucket) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		key, ok := keyFromFile(e.Name())
		if ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
