// Package id defines TypeID-based identity types for all engine entities.
//
// Every persisted entity uses a single ID struct with a prefix that identifies
// the entity type. IDs are K-sortable (UUIDv7-based), globally unique,
// and URL-safe in the format "prefix_suffix".
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all entity types.
const (
	PrefixWorkflowForm     Prefix = "wff"
	PrefixWorkflowVersion  Prefix = "wfv"
	PrefixWorkflowInstance Prefix = "wfi"
	PrefixActivityForm     Prefix = "acf"
	PrefixActivityVersion  Prefix = "acv"
	PrefixActivityInstance Prefix = "aci"
	PrefixSemaphore        Prefix = "sem"
	PrefixSemaphoreQueue   Prefix = "semq"
	PrefixLog              Prefix = "log"
	PrefixAsyncRequest     Prefix = "areq"
)

// ID is the primary identifier type for all entities.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "wfi_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Convenience constructors
// ──────────────────────────────────────────────────

// NewWorkflowFormID generates a new workflow form ID.
func NewWorkflowFormID() ID { return New(PrefixWorkflowForm) }

// NewWorkflowVersionID generates a new workflow version ID.
func NewWorkflowVersionID() ID { return New(PrefixWorkflowVersion) }

// NewWorkflowInstanceID generates a new workflow instance ID.
func NewWorkflowInstanceID() ID { return New(PrefixWorkflowInstance) }

// NewActivityFormID generates a new activity form ID.
func NewActivityFormID() ID { return New(PrefixActivityForm) }

// NewActivityVersionID generates a new activity version ID.
func NewActivityVersionID() ID { return New(PrefixActivityVersion) }

// NewActivityInstanceID generates a new activity instance ID.
func NewActivityInstanceID() ID { return New(PrefixActivityInstance) }

// NewSemaphoreID generates a new semaphore ID.
func NewSemaphoreID() ID { return New(PrefixSemaphore) }

// NewSemaphoreQueueID generates a new semaphore queue entry ID.
func NewSemaphoreQueueID() ID { return New(PrefixSemaphoreQueue) }

// NewLogID generates a new journal entry ID.
func NewLogID() ID { return New(PrefixLog) }

// NewAsyncRequestID generates a new async request ID.
func NewAsyncRequestID() ID { return New(PrefixAsyncRequest) }

// ──────────────────────────────────────────────────
// Convenience parsers
// ──────────────────────────────────────────────────

// ParseWorkflowInstanceID parses a string and validates the "wfi" prefix.
func ParseWorkflowInstanceID(s string) (ID, error) {
	return ParseWithPrefix(s, PrefixWorkflowInstance)
}

// ParseActivityInstanceID parses a string and validates the "aci" prefix.
func ParseActivityInstanceID(s string) (ID, error) {
	return ParseWithPrefix(s, PrefixActivityInstance)
}

// ParseAsyncRequestID parses a string and validates the "areq" prefix.
func ParseAsyncRequestID(s string) (ID, error) {
	return ParseWithPrefix(s, PrefixAsyncRequest)
}

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// Equal reports whether two IDs have the same string form.
func (i ID) Equal(other ID) bool {
	return i.String() == other.String()
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler so binary codecs
// carry the textual form.
func (i ID) MarshalBinary() ([]byte, error) { return i.MarshalText() }

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (i *ID) UnmarshalBinary(data []byte) error { return i.UnmarshalText(data) }

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
