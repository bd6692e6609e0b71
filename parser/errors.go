package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode wraps JSON syntax and read failures.
	ErrDecode = errors.New("decode document")
	// ErrMissingItems is returned for a document without an Items list.
	ErrMissingItems = errors.New("document has no Items list")
	// ErrMalformedTimestamp is returned when a timestamp has no date and time part.
	ErrMalformedTimestamp = errors.New("malformed timestamp")
)

// MissingFieldError reports an absent required key.
type MissingFieldError struct {
	ItemID string
	Field  string
}

func (e MissingFieldError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("missing required field %s", e.Field)
	}
	return fmt.Sprintf("item %s: missing required field %s", e.ItemID, e.Field)
}

// FieldTypeError reports a key whose value has an unexpected JSON type.
type FieldTypeError struct {
	ItemID string
	Field  string
	Value  interface{}
}

func (e FieldTypeError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("field %s has unexpected value %v (%T)", e.Field, e.Value, e.Value)
	}
	return fmt.Sprintf("item %s: field %s has unexpected value %v (%T)", e.ItemID, e.Field, e.Value, e.Value)
}

// ErrorKind labels an extraction error for metrics.
func ErrorKind(err error) string {
	if err == nil {
		return "unknown"
	}
	var missing MissingFieldError
	if errors.As(err, &missing) {
		return "missing_field"
	}
	var fieldType FieldTypeError
	if errors.As(err, &fieldType) {
		return "field_type"
	}
	if errors.Is(err, ErrMalformedTimestamp) {
		return "timestamp"
	}
	if errors.Is(err, ErrDecode) {
		return "decode"
	}
	if errors.Is(err, ErrMissingItems) {
		return "document"
	}
	return "other"
}
