// ABOUTME: EntityRef is the polymorphic (type, id) reference for anything that can chat
// ABOUTME: Provides structural equality, string form, and parsing helpers

package entity

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRef is returned when a ref string or its parts are malformed
var ErrInvalidRef = errors.New("invalid entity ref")

// Ref identifies a participant-capable entity without coupling to its schema.
// Type is a tag like "user" or "bot"; ID is the entity's identifier within
// that type's namespace.
type Ref struct {
	Type string
	ID   string
}

// NewRef builds a Ref from a type tag and id.
func NewRef(typeTag, id string) Ref {
	return Ref{Type: typeTag, ID: id}
}

// Equal reports whether two refs address the same entity.
// Equality is structural: type tag plus id.
func (r Ref) Equal(other Ref) bool {
	return r.Type == other.Type && r.ID == other.ID
}

// IsZero reports whether the ref is unset.
func (r Ref) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

// Validate checks that both parts are present and free of the separator.
func (r Ref) Validate() error {
	if r.Type == "" || r.ID == "" {
		return fmt.Errorf("%w: type and id are required", ErrInvalidRef)
	}
	if strings.Contains(r.Type, ":") {
		return fmt.Errorf("%w: type %q must not contain ':'", ErrInvalidRef, r.Type)
	}
	return nil
}

// String renders the ref as "type:id".
func (r Ref) String() string {
	return r.Type + ":" + r.ID
}

// ParseRef parses a "type:id" string produced by String.
func ParseRef(s string) (Ref, error) {
	typeTag, id, ok := strings.Cut(s, ":")
	if !ok || typeTag == "" || id == "" {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	return Ref{Type: typeTag, ID: id}, nil
}
