// Package catalog enumerates the audio tracks available in the library
// directory.
//
// The catalog never caches: every [Catalog.List] call performs a fresh
// directory scan. Callers that need a stable view take a [Catalog.Snapshot]
// once and pass it around explicitly.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var (
	// ErrCatalogEmpty is returned when the library contains no playable tracks.
	ErrCatalogEmpty = errors.New("catalog: no tracks available")

	// ErrTrackNotFound is returned when an index is outside the current listing.
	ErrTrackNotFound = errors.New("catalog: track not found")
)

// Track is a single audio file in the library, identified by its file name.
type Track struct {
	Name string `json:"name"`
}

// String returns the track name.
func (t Track) String() string { return t.Name }

// Catalog lists tracks from a directory, filtered by file extension.
type Catalog struct {
	dir  string
	exts []string
}

// New creates a catalog over dir. Only files whose extension matches one of
// exts (case-insensitive, with leading dot) are listed. An empty exts accepts
// every regular file.
func New(dir string, exts []string) *Catalog {
	norm := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		norm = append(norm, e)
	}
	return &Catalog{dir: dir, exts: norm}
}

// Dir returns the library directory.
func (c *Catalog) Dir() string { return c.dir }

// Accepts reports whether a file name has one of the catalog's extensions.
func (c *Catalog) Accepts(name string) bool {
	if len(c.exts) == 0 {
		return true
	}
	return slices.Contains(c.exts, strings.ToLower(filepath.Ext(name)))
}

// List scans the directory and returns the matching tracks sorted by name.
func (c *Catalog) List() ([]Track, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("catalog: list %q: %w", c.dir, err)
	}
	tracks := make([]Track, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !c.Accepts(e.Name()) {
			continue
		}
		tracks = append(tracks, Track{Name: e.Name()})
	}
	// os.ReadDir already sorts by file name.
	return tracks, nil
}

// Get returns the track at index in a fresh listing.
func (c *Catalog) Get(index int) (Track, error) {
	tracks, err := c.List()
	if err != nil {
		return Track{}, err
	}
	if index < 0 || index >= len(tracks) {
		return Track{}, fmt.Errorf("%w: index %d out of range [0, %d)", ErrTrackNotFound, index, len(tracks))
	}
	return tracks[index], nil
}

// Snapshot is like [Catalog.List] but fails with [ErrCatalogEmpty] when no
// tracks are available.
func (c *Catalog) Snapshot() ([]Track, error) {
	tracks, err := c.List()
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w in %q", ErrCatalogEmpty, c.dir)
	}
	return tracks, nil
}

// Path returns the file system path of t.
func (c *Catalog) Path(t Track) string {
	return filepath.Join(c.dir, t.Name)
}
