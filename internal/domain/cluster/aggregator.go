// internal/domain/cluster/aggregator.go

package cluster

import (
	"fmt"
	"sort"

	"pulsemap/internal/domain/feed"
)

// Aggregator folds enriched records into clusters keyed by topic+location.
// Not safe for concurrent use: a stream owns exactly one aggregator and
// folds into it from its ingestion goroutine only.
type Aggregator struct {
	streamID  string
	memberCap int
	clusters  map[string]*Cluster
	created   int // ordinals handed out so far, never reused
}

// NewAggregator creates an aggregator for one stream.
func NewAggregator(streamID string, memberCap int) *Aggregator {
	if memberCap <= 0 {
		memberCap = DefaultMemberCap
	}
	return &Aggregator{
		streamID:  streamID,
		memberCap: memberCap,
		clusters:  make(map[string]*Cluster),
	}
}

// Fold applies one enriched record and returns a snapshot of the cluster it
// landed in. The caller must filter out records without coordinates.
func (a *Aggregator) Fold(rec feed.EnrichedRecord) Snapshot {
	key := KeyFor(rec.Topic, rec.Location)

	c, ok := a.clusters[key]
	if !ok {
		c = &Cluster{
			ID:       fmt.Sprintf("%s_%d", a.streamID, a.created),
			Key:      key,
			Topic:    Normalize(rec.Topic),
			Location: Normalize(rec.Location),
		}
		a.created++
		a.clusters[key] = c
	}

	c.Count++

	// Online mean: never sum/count, which drifts on long-lived streams.
	c.BaseLat += (rec.Coordinates.Lat - c.BaseLat) / float64(c.Count)
	c.BaseLon += (rec.Coordinates.Lon - c.BaseLon) / float64(c.Count)
	offLat, offLon := Offset(key)
	c.CentroidLat = c.BaseLat + offLat
	c.CentroidLon = c.BaseLon + offLon

	c.Popularity += rec.Popularity()
	if rec.Timestamp.After(c.LastSeen) {
		c.LastSeen = rec.Timestamp
	}

	c.Members = append(c.Members, rec.Record)
	sort.SliceStable(c.Members, func(i, j int) bool {
		pi, pj := c.Members[i].Popularity(), c.Members[j].Popularity()
		if pi != pj {
			return pi > pj
		}
		return c.Members[i].Timestamp.Before(c.Members[j].Timestamp)
	})
	if len(c.Members) > a.memberCap {
		c.Members = c.Members[:a.memberCap]
	}

	return c.Snapshot()
}

// Size returns the number of clusters created so far.
func (a *Aggregator) Size() int {
	return len(a.clusters)
}

// Snapshots returns snapshots of all clusters, ordered by cluster id.
func (a *Aggregator) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(a.clusters))
	for _, c := range a.clusters {
		out = append(out, c.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
