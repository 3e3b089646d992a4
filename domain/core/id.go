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
	ProtocolID    ID
	ParticipantID ID
	DataPointID   ID
	MarkerKey     ID
)

// String conversions for domain IDs
func (id ProtocolID) String() string    { return ID(id).String() }
func (id ParticipantID) String() string { return ID(id).String() }
func (id DataPointID) String() string   { return ID(id).String() }
func (k MarkerKey) String() string      { return ID(k).String() }

// ParseProtocolID parses a string into ProtocolID
func ParseProtocolID(s string) (ProtocolID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("protocol ID cannot be empty")
	}
	return ProtocolID(s), nil
}

// ParseParticipantID parses a string into ParticipantID
func ParseParticipantID(s string) (ParticipantID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("participant ID cannot be empty")
	}
	return ParticipantID(s), nil
}

// ParseMarkerKey parses a string into MarkerKey
func ParseMarkerKey(s string) (MarkerKey, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("marker key cannot be empty")
	}
	return MarkerKey(s), nil
}
