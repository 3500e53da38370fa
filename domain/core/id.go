package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	// RunID identifies one end-to-end analysis run (tidy + fit).
	RunID ID
	// ParticipantID is the opaque subject identifier from the wide table.
	// It is the repeated-measures grouping key across all derived tables.
	ParticipantID string
	// MetricName keys one measured variable within a domain table.
	MetricName string
	// TableName keys one tidy table inside a bundle.
	TableName string
)

func (id RunID) String() string         { return ID(id).String() }
func (id ParticipantID) String() string { return string(id) }
func (m MetricName) String() string     { return string(m) }
func (t TableName) String() string      { return string(t) }

// NewRunID creates a fresh run identifier.
func NewRunID() RunID { return RunID(NewID()) }

// ParseParticipantID parses a raw cell into a ParticipantID
func ParseParticipantID(s string) (ParticipantID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("participant ID cannot be empty")
	}
	return ParticipantID(s), nil
}
