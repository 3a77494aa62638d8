// internal/service/geo/limiter.go

package geo

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Gate serializes external geocoding calls process-wide: at most one
// acquisition per interval across all streams. Only the geocoding path
// blocks on the gate; ingestion of non-geocoding work never does.
type Gate struct {
	limiter *rate.Limiter
}

// NewGate creates a gate allowing one acquisition per minInterval.
func NewGate(minInterval time.Duration) *Gate {
	if minInterval <= 0 {
		minInterval = 1100 * time.Millisecond
	}
	return &Gate{limiter: rate.NewLimiter(rate.Every(minInterval), 1)}
}

// Wait blocks until the caller may issue the next external request or the
// context is cancelled.
func (g *Gate) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}
