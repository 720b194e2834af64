package core

import "time"

// Dimension partitions memory records by purpose.
type Dimension string

const (
	DimensionCoreIdentity      Dimension = "core_identity"
	DimensionRecentEvent       Dimension = "recent_event"
	DimensionKeyConcept        Dimension = "key_concept"
	DimensionProcedural        Dimension = "procedural"
	DimensionResourceReference Dimension = "resource_reference"
	DimensionKnowledge         Dimension = "knowledge"
)

// Dimensions lists every dimension in context priority order, highest first.
var Dimensions = []Dimension{
	DimensionCoreIdentity,
	DimensionRecentEvent,
	DimensionKeyConcept,
	DimensionProcedural,
	DimensionResourceReference,
	DimensionKnowledge,
}

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	for _, known := range Dimensions {
		if d == known {
			return true
		}
	}
	return false
}

// MemoryRecord is a unit of long-term memory owned by a user. The core only
// reads records.
type MemoryRecord struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Dimension Dimension `json:"dimension"`
	Content   string    `json:"content"`
	Salience  float64   `json:"salience"`
	Timestamp time.Time `json:"timestamp"`
}
