package playback

import (
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/wavecast/internal/catalog"
)

// Position is the cursor's location within its snapshot.
type Position struct {
	Index int           `json:"index"`
	Track catalog.Track `json:"track"`
	Total int           `json:"total"`
}

// Cursor points at the active track of an explicit catalog snapshot.
// Navigation wraps around at both ends and never fails.
//
// Mutations are expected to come from a single owner (the [Controller]);
// reads are safe from any goroutine.
type Cursor struct {
	mu     sync.RWMutex
	tracks []catalog.Track
	index  int
}

// NewCursor creates a cursor at index 0 of snapshot. The snapshot is copied.
func NewCursor(snapshot []catalog.Track) (*Cursor, error) {
	if len(snapshot) == 0 {
		return nil, fmt.Errorf("playback: new cursor: %w", catalog.ErrCatalogEmpty)
	}
	return &Cursor{tracks: slices.Clone(snapshot)}, nil
}

// Current returns the current position.
func (c *Cursor) Current() Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.position()
}

// Advance moves to the next track, wrapping to the first after the last.
func (c *Cursor) Advance() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = (c.index + 1) % len(c.tracks)
	return c.position()
}

// Retreat moves to the previous track, wrapping to the last before the first.
func (c *Cursor) Retreat() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = (c.index - 1 + len(c.tracks)) % len(c.tracks)
	return c.position()
}

// Reload replaces the snapshot. The current track is kept when it still
// exists; otherwise the index is clamped into the new bounds. changed reports
// whether the resolved track differs from before. An empty snapshot is
// rejected with [catalog.ErrCatalogEmpty] and leaves the cursor untouched.
func (c *Cursor) Reload(snapshot []catalog.Track) (pos Position, changed bool, err error) {
	if len(snapshot) == 0 {
		return c.Current(), false, fmt.Errorf("playback: reload cursor: %w", catalog.ErrCatalogEmpty)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.tracks[c.index]
	c.tracks = slices.Clone(snapshot)
	if i := slices.Index(c.tracks, prev); i >= 0 {
		c.index = i
	} else {
		c.index = min(c.index, len(c.tracks)-1)
	}
	pos = c.position()
	return pos, pos.Track != prev, nil
}

// Tracks returns a copy of the current snapshot.
func (c *Cursor) Tracks() []catalog.Track {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.tracks)
}

func (c *Cursor) position() Position {
	return Position{Index: c.index, Track: c.tracks[c.index], Total: len(c.tracks)}
}
