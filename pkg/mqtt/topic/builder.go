package topic

import (
	"fmt"
)

// Builder constructs MQTT topic strings under a fixed root namespace.
// Pattern: {root}/{segment}/{stationID}.
type Builder struct {
	root string
}

// NewBuilder creates a Builder with the given root namespace (e.g. "dcs/v1").
func NewBuilder(root string) *Builder {
	return &Builder{root: root}
}

// Build returns the full topic for a segment and station identifier.
func (b *Builder) Build(segment, stationID string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, segment, stationID)
}

// BuildWildcard returns the filter matching the segment for every station.
func (b *Builder) BuildWildcard(segment string) string {
	return b.Build(segment, Wildcard)
}
