// Package store provides in-memory caching for track metadata.
package store

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"nowplaying/internal/core"
)

// TrackCache caches track metadata by track ID so poll cycles do not
// refetch artwork and names for tracks the engine has already seen.
type TrackCache struct {
	cache *lru.Cache[string, core.Track]
}

// NewTrackCache creates a cache holding up to maxTracks entries.
func NewTrackCache(maxTracks int) *TrackCache {
	cache, _ := lru.New[string, core.Track](maxTracks)
	return &TrackCache{cache: cache}
}

// Get returns the cached track, if present.
func (tc *TrackCache) Get(trackID string) (core.Track, bool) {
	return tc.cache.Get(trackID)
}

// Put stores a track, evicting the least recently used entry when full.
func (tc *TrackCache) Put(track core.Track) {
	if track.ID == "" {
		return
	}
	tc.cache.Add(track.ID, track)
}

// Len returns the number of cached tracks.
func (tc *TrackCache) Len() int {
	return tc.cache.Len()
}

// Purge empties the cache.
func (tc *TrackCache) Purge() {
	tc.cache.Purge()
}
