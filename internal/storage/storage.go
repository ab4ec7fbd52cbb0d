// Package storage loads uploaded documents from a storage location: file:// URLs,
// plain paths and http(s) URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MaxObjectBytes caps the size of a fetched object.
const MaxObjectBytes = 20 << 20

var (
	// ErrNotFound is returned when the object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrOutsideRoot is returned for paths that escape the configured root.
	ErrOutsideRoot = errors.New("path is outside the storage root")
	// ErrUnsupportedScheme is returned for schemes other than file, http and https.
	ErrUnsupportedScheme = errors.New("unsupported storage scheme")
	// ErrTooLarge is returned for objects over MaxObjectBytes.
	ErrTooLarge = errors.New("object is too large")
)

// Fetcher loads the bytes stored at a location.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// Store resolves locations against a local root directory or over HTTP.
type Store struct {
	root string
	http *http.Client
}

// New creates a Store. Relative paths resolve against root; an empty root allows any
// absolute path.
func New(root string) *Store {
	return &Store{root: root, http: &http.Client{Timeout: 60 * time.Second}}
}

// Fetch implements Fetcher.
func (s *Store) Fetch(ctx context.Context, location string) ([]byte, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("%w: empty location", ErrNotFound)
	}

	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// plain path, including Windows drive letters
		return s.readFile(location)
	}
	switch u.Scheme {
	case "file":
		return s.readFile(u.Path)
	case "http", "https":
		return s.get(ctx, location)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
}

func (s *Store) resolve(path string) (string, error) {
	if s.root == "" {
		return filepath.Clean(path), nil
	}
	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve storage root: %w", err)
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return full, nil
}

func (s *Store) readFile(path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() > MaxObjectBytes {
		return nil, ErrTooLarge
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func (s *Store) get(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", location, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("download %s: HTTP status %d", location, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxObjectBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", location, err)
	}
	if len(data) > MaxObjectBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}
