// internal/adapter/storage/place_store.go

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"pulsemap/internal/domain/feed"
)

// PlaceStore persists resolved geocoding results so known locations survive
// process restarts and never re-hit the external geocoding service.
type PlaceStore struct {
	db *pgxpool.Pool
}

// NewPlaceStore creates a new place store.
func NewPlaceStore(db *pgxpool.Pool) *PlaceStore {
	return &PlaceStore{
		db: db,
	}
}

// Get retrieves the coordinates for a normalized location name.
func (s *PlaceStore) Get(ctx context.Context, location string) (feed.Coordinates, bool, error) {
	query := `SELECT lat, lon FROM geocoded_places WHERE location = $1`

	var coords feed.Coordinates
	err := s.db.QueryRow(ctx, query, location).Scan(&coords.Lat, &coords.Lon)
	if errors.Is(err, pgx.ErrNoRows) {
		return feed.Coordinates{}, false, nil
	}
	if err != nil {
		return feed.Coordinates{}, false, fmt.Errorf("query error: %w", err)
	}
	return coords, true, nil
}

// Put upserts the coordinates for a normalized location name.
func (s *PlaceStore) Put(ctx context.Context, location string, coords feed.Coordinates) error {
	query := `
		INSERT INTO geocoded_places (location, lat, lon, resolved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (location) DO UPDATE
		SET lat = $2, lon = $3, resolved_at = $4
	`

	if _, err := s.db.Exec(ctx, query, location, coords.Lat, coords.Lon, time.Now()); err != nil {
		return fmt.Errorf("exec error: %w", err)
	}
	return nil
}
