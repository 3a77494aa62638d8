// internal/domain/cluster/model.go

package cluster

import (
	"crypto/md5"
	"encoding/binary"
	"strings"
	"time"

	"pulsemap/internal/domain/feed"
)

const (
	// DefaultMemberCap bounds the member list kept per cluster.
	DefaultMemberCap = 50

	// snapshotMemberCap bounds the member excerpt carried by snapshots.
	snapshotMemberCap = 3
)

// Normalize lower-cases and trims a key component.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// KeyFor builds the cluster key for a topic/location pair. Topic and
// location are independent axes: "blast_mumbai" and "employment_mumbai"
// must never collapse into one cluster.
func KeyFor(topic, location string) string {
	return Normalize(topic) + "_" + Normalize(location)
}

// Offset returns the deterministic display offset for a key, on the order
// of ±0.02 degrees (~2km). It is a pure function of the key, so a cluster's
// displayed position is stable across updates and process restarts, and two
// clusters sharing a base location almost always land on distinct points.
func Offset(key string) (lat, lon float64) {
	sum := md5.Sum([]byte(key))
	h := binary.BigEndian.Uint32(sum[:4])
	lat = (float64(h%2000) - 1000) / 50000.0
	lon = (float64((h/2000)%2000) - 1000) / 50000.0
	return lat, lon
}

// Cluster is the mutable aggregate for one key. A cluster is owned
// exclusively by the stream that created it and is only ever mutated from
// that stream's ingestion goroutine.
type Cluster struct {
	ID       string
	Key      string
	Topic    string
	Location string

	// BaseLat/BaseLon hold the running mean of member coordinates before
	// the display offset; the centroid is base plus the key's offset.
	BaseLat     float64
	BaseLon     float64
	CentroidLat float64
	CentroidLon float64

	Count      uint
	Popularity float64
	LastSeen   time.Time

	// Members is sorted by popularity descending (earlier timestamp wins
	// ties) and truncated to the aggregator's member cap.
	Members []feed.Record
}

// Snapshot returns the immutable public view of the cluster.
func (c *Cluster) Snapshot() Snapshot {
	n := len(c.Members)
	if n > snapshotMemberCap {
		n = snapshotMemberCap
	}
	top := make([]Member, 0, n)
	for _, m := range c.Members[:n] {
		top = append(top, Member{
			Text:       m.Text,
			Author:     m.Author,
			Popularity: m.Popularity(),
		})
	}

	s := Snapshot{
		ID:         c.ID,
		Lat:        c.CentroidLat,
		Lon:        c.CentroidLon,
		Topic:      c.Topic,
		Location:   c.Location,
		Count:      c.Count,
		Popularity: c.Popularity,
		LastSeen:   c.LastSeen,
		TopMembers: top,
	}
	if len(c.Members) > 0 {
		s.HeadlineText = c.Members[0].Text
		s.HeadlineAuthor = c.Members[0].Author
	}
	return s
}

// Member is a snapshot of one member record.
type Member struct {
	Text       string  `json:"text"`
	Author     string  `json:"author"`
	Popularity float64 `json:"popularity"`
}

// Snapshot is the public view of a cluster carried by change events.
type Snapshot struct {
	ID             string    `json:"id"`
	Lat            float64   `json:"lat"`
	Lon            float64   `json:"lon"`
	Topic          string    `json:"topic"`
	Location       string    `json:"location"`
	Count          uint      `json:"count"`
	Popularity     float64   `json:"popularity"`
	LastSeen       time.Time `json:"last_seen"`
	HeadlineText   string    `json:"headline_text"`
	HeadlineAuthor string    `json:"headline_author"`
	TopMembers     []Member  `json:"top_members"`
}

// EventType classifies cluster change events.
type EventType string

const (
	EventUpdate    EventType = "update"
	EventClosed    EventType = "closed"
	EventHeartbeat EventType = "heartbeat"
)

// Event is a single cluster change notification. Update events carry a full
// snapshot rather than a diff, so consumers may keep only the latest event
// per cluster.
type Event struct {
	Type    EventType `json:"type"`
	Cluster *Snapshot `json:"cluster,omitempty"`
}
