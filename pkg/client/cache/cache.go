// Package cache implements LocalCacheStore: a last-known-good on-disk
// snapshot per namespace, written atomically on every successful remote
// adoption and read back as a fallback when a remote fetch fails.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/configwatch/configd/pkg/model"
	"github.com/configwatch/configd/pkg/properties"
)

// Store persists one properties-formatted file per NsKey under Dir.
type Store struct {
	Dir string
}

// New constructs a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating local cache directory %s: %w", dir, err)
	}
	return &Store{Dir: dir}, nil
}

// FileName returns the deterministic, safe-encoded file name for key:
// "<appId>+<cluster>+<namespace>.properties" with characters outside
// [A-Za-z0-9._-] percent-encoded.
func FileName(key model.NsKey) string {
	return fmt.Sprintf("%s+%s+%s.properties", percentEncode(key.AppID), percentEncode(key.Cluster), percentEncode(key.Namespace))
}

func percentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func (s *Store) path(key model.NsKey) string {
	return filepath.Join(s.Dir, FileName(key))
}

// Write atomically replaces the cache file for key: write to a temp
// file in the same directory, then rename, since this file is the sole
// source of truth on a cache hit.
func (s *Store) Write(key model.NsKey, releaseKey string, notificationID int64, items *model.OrderedMap) error {
	doc := properties.MarshalWithHeader(releaseKey, notificationID, items)

	tmp, err := os.CreateTemp(s.Dir, ".tmp-cache-*")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		return fmt.Errorf("renaming cache file into place for %s: %w", key.String(), err)
	}
	return nil
}

// Read loads the cached snapshot for key, returning model.ErrNotFound if
// no cache file exists.
func (s *Store) Read(key model.NsKey) (*properties.ParsedFile, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("reading local cache for %s: %w", key.String(), model.ErrNotFound)
		}
		return nil, fmt.Errorf("opening local cache for %s: %w", key.String(), err)
	}
	defer f.Close()

	parsed, err := properties.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing local cache for %s: %w", key.String(), model.ErrParse)
	}
	return parsed, nil
}
