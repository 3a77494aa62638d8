// internal/service/geo/cache.go

package geo

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"pulsemap/internal/domain/feed"
)

const defaultCacheSize = 1000

// PlaceStore is the persistent tier of the geocode cache. Only entries
// confirmed resolvable are ever written to it.
type PlaceStore interface {
	Get(ctx context.Context, location string) (feed.Coordinates, bool, error)
	Put(ctx context.Context, location string, coords feed.Coordinates) error
}

type cacheEntry struct {
	coords feed.Coordinates
	found  bool // false caches a confirmed miss
}

// Resolver geocodes location names through a bounded in-memory LRU, an
// optional persistent store and the process-wide rate gate, in that order.
// One resolver is shared by all streams: locations repeat across queries.
type Resolver struct {
	geocoder Geocoder
	gate     *Gate
	store    PlaceStore // may be nil
	cache    *lru.Cache[string, cacheEntry]
	log      *slog.Logger
}

// NewResolver creates a resolver with the given LRU capacity. store may be
// nil, in which case the persistent tier is skipped.
func NewResolver(geocoder Geocoder, gate *Gate, store PlaceStore, capacity int, log *slog.Logger) *Resolver {
	if capacity <= 0 {
		capacity = defaultCacheSize
	}
	cache, _ := lru.New[string, cacheEntry](capacity)
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		geocoder: geocoder,
		gate:     gate,
		store:    store,
		cache:    cache,
		log:      log,
	}
}

// Resolve returns coordinates for a location name, or found=false when the
// name cannot be geocoded. Confirmed misses are cached too, so repeated
// failing lookups never re-hit the external service; transient errors are
// returned without being cached.
func (r *Resolver) Resolve(ctx context.Context, location string) (feed.Coordinates, bool, error) {
	name := strings.ToLower(strings.TrimSpace(location))
	if name == "" || name == "unknown" {
		return feed.Coordinates{}, false, nil
	}

	if e, ok := r.cache.Get(name); ok {
		return e.coords, e.found, nil
	}

	if r.store != nil {
		coords, ok, err := r.store.Get(ctx, name)
		if err != nil {
			r.log.Warn("place store read failed", "location", name, "error", err)
		} else if ok {
			r.cache.Add(name, cacheEntry{coords: coords, found: true})
			return coords, true, nil
		}
	}

	if err := r.gate.Wait(ctx); err != nil {
		return feed.Coordinates{}, false, err
	}

	coords, err := r.geocoder.Geocode(ctx, name)
	if errors.Is(err, ErrNotFound) {
		r.cache.Add(name, cacheEntry{})
		return feed.Coordinates{}, false, nil
	}
	if err != nil {
		return feed.Coordinates{}, false, err
	}

	r.cache.Add(name, cacheEntry{coords: coords, found: true})
	if r.store != nil {
		if err := r.store.Put(ctx, name, coords); err != nil {
			r.log.Warn("place store write failed", "location", name, "error", err)
		}
	}
	return coords, true, nil
}
