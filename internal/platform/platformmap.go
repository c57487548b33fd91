// Package platform builds and compares structural snapshots of external
// platforms: which sections exist, how big they are, and which tags are in
// circulation. The scout, mapper and analyzer jobs live here.
package platform

import (
	"encoding/json"
	"time"
)

// Section is one named area of a platform with its observed item count.
type Section struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// PlatformMap is a structural snapshot of one platform at one instant.
type PlatformMap struct {
	Platform   string
	Sections   []Section
	Tags       map[string]int
	SnapshotAt time.Time // millisecond precision
}

// platformMapJSON is the wire shape. snapshot_at travels as Unix
// milliseconds so the round trip is exact regardless of zone.
type platformMapJSON struct {
	Platform     string         `json:"platform"`
	Sections     []Section      `json:"sections"`
	Tags         map[string]int `json:"tags"`
	SnapshotAtMS int64          `json:"snapshot_at_ms"`
}

// ToJSON serializes the snapshot.
func (m PlatformMap) ToJSON() ([]byte, error) {
	return json.Marshal(platformMapJSON{
		Platform:     m.Platform,
		Sections:     m.Sections,
		Tags:         m.Tags,
		SnapshotAtMS: m.SnapshotAt.UnixMilli(),
	})
}

// FromJSON parses a snapshot produced by ToJSON.
func FromJSON(data []byte) (PlatformMap, error) {
	var wire platformMapJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return PlatformMap{}, err
	}
	return PlatformMap{
		Platform:   wire.Platform,
		Sections:   wire.Sections,
		Tags:       wire.Tags,
		SnapshotAt: time.UnixMilli(wire.SnapshotAtMS).UTC(),
	}, nil
}

// SectionCount returns the count for a named section, zero when absent.
func (m PlatformMap) SectionCount(name string) int {
	for _, s := range m.Sections {
		if s.Name == name {
			return s.Count
		}
	}
	return 0
}
