// Package local provides a filesystem-backed blob store.
//
// Blobs live under a base directory mirroring the namespace convention:
// <base>/original/<key> and <base>/processed/<key>. URLs point at the
// static file tree served by the HTTP layer under /uploads/.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/photogate/photogate/pkg/blob"
)

// Config holds configuration for the local blob store.
type Config struct {
	// BaseDir is the directory holding the original/ and processed/ trees.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`

	// BaseURL is the public URL prefix blobs are served under,
	// e.g. "http://localhost:8080/uploads".
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// Store is a filesystem implementation of blob.Store.
type Store struct {
	baseDir string
	baseURL string
}

var _ blob.Store = (*Store)(nil)

// New creates a local blob store, creating the namespace directories.
func New(cfg Config) (*Store, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local blob store: base_dir is required")
	}
	for _, ns := range []string{blob.NamespaceOriginal, blob.NamespaceProcessed} {
		if err := os.MkdirAll(filepath.Join(cfg.BaseDir, ns), 0755); err != nil {
			return nil, fmt.Errorf("local blob store: create %s dir: %w", ns, err)
		}
	}
	return &Store{
		baseDir: cfg.BaseDir,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

// BaseDir returns the directory the store writes under. The HTTP layer
// serves this tree as static files.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) Put(ctx context.Context, namespace, key string, data []byte, contentType string) (string, error) {
	storedKey := namespace + "/" + key
	path, err := s.safePath(storedKey)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("local blob store: %w", err)
	}

	// Write to a temp file and rename so readers never observe a
	// partially written blob.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".photogate-*")
	if err != nil {
		return "", fmt.Errorf("local blob store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("local blob store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("local blob store: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("local blob store: rename: %w", err)
	}

	return storedKey, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.safePath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, blob.ErrBlobNotFound
		}
		return nil, fmt.Errorf("%w: %v", blob.ErrUnavailable, err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	path, err := s.safePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("local blob store: delete: %w", err)
	}
	return nil
}

// SignedURL returns an unbounded direct URL; the local backend relies on
// the static file handler rather than real signing.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.safePath(key); err != nil {
		return "", err
	}
	return s.baseURL + "/" + key, nil
}

// safePath resolves a key inside the base directory and rejects traversal.
func (s *Store) safePath(key string) (string, error) {
	cleaned := filepath.Clean("/" + key)
	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("local blob store: invalid key %q", key)
	}
	return filepath.Join(s.baseDir, cleaned), nil
}
