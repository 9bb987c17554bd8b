// Package apperr holds the error vocabulary shared by the index, schema and
// bootstrap packages: sentinel errors, status-coded wraps and the composite
// error used for per-vault partial failure reporting.
package apperr

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
)

// Status is the machine-readable reason attached to an error.
type Status string

const (
	StatusNoSchemaFound      Status = "NO_SCHEMA_FOUND"
	StatusBadParseForSchema  Status = "BAD_PARSE_FOR_SCHEMA"
	StatusBadParseForNote    Status = "BAD_PARSE_FOR_NOTE"
	StatusDuplicateNoteID    Status = "DUPLICATE_NOTE_ID"
	StatusDuplicateNoteName  Status = "DUPLICATE_NOTE_NAME"
	StatusVaultListFailed    Status = "VAULT_LIST_FAILED"
	StatusVaultResolveFailed Status = "VAULT_RESOLVE_FAILED"
	StatusDBOpenFailed       Status = "DB_OPEN_FAILED"
	StatusDBSchemaFailed     Status = "DB_SCHEMA_FAILED"
	StatusDBWriteFailed      Status = "DB_WRITE_FAILED"
	StatusUnknown            Status = "UNKNOWN"
)

// Field is a structured key/value attached to a wrapped error.
type Field struct {
	Key   string
	Value any
}

// F is shorthand for building a Field at call sites.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// FieldVault names the vault an error belongs to.
func FieldVault(name string) Field {
	return F("vault", name)
}

// FieldFile names the file an error belongs to.
func FieldFile(path string) Field {
	return F("file", path)
}

// New returns a status-coded error.
func New(status Status, msg string, fields ...Field) error {
	return oops.Code(string(status)).With(flatten(fields)...).New(msg)
}

// Wrap attaches a status and fields to err. It returns nil for a nil err.
func Wrap(err error, status Status, msg string, fields ...Field) error {
	if err == nil {
		return nil
	}
	return oops.Code(string(status)).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

// StatusOf extracts the status from an error chain. Items and composites
// report their own status; the first item wins for a composite.
func StatusOf(err error) Status {
	if err == nil {
		return ""
	}
	switch e := err.(type) {
	case *Item:
		return e.Status
	case *Composite:
		if len(e.Errors) > 0 {
			return e.Errors[0].Status
		}
		return ""
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code := fmt.Sprint(oopsErr.Code()); code != "" && code != "<nil>" {
			return Status(code)
		}
	}
	var item *Item
	if errors.As(err, &item) {
		return item.Status
	}
	var comp *Composite
	if errors.As(err, &comp) && len(comp.Errors) > 0 {
		return comp.Errors[0].Status
	}
	return ""
}

// HasStatus reports whether err carries status.
func HasStatus(err error, status Status) bool {
	return err != nil && StatusOf(err) == status
}

// FieldsOf returns the structured fields attached with Wrap or New.
func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func flatten(fields []Field) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}
