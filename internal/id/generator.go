package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// newIdentifier produces a prefixed identifier. UUIDv7 keeps identifiers
// time-ordered so history listings sort naturally; it falls back to v4 when
// the system clock misbehaves.
func newIdentifier(prefix string) string {
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
	}
	return fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(u.String(), "-", ""))
}

// NewEventID generates an event identifier.
func NewEventID() string { return newIdentifier("evt") }

// NewRunID generates an automation run identifier.
func NewRunID() string { return newIdentifier("run") }

// NewSubscriptionID generates a bus subscription identifier.
func NewSubscriptionID() string { return newIdentifier("sub") }

// NewConversationID generates a conversation identifier for multi-turn agents.
func NewConversationID() string { return newIdentifier("conv") }
