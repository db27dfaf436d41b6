package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrCapacity    = errors.New("license capacity exhausted")
	ErrConsistency = errors.New("consistency violation")
	ErrGeneration  = errors.New("identifier generation failed")
)

// Error carries the offending entity or field next to one of the sentinel
// kinds above, so callers can match with errors.Is and still report details.
type Error struct {
	Kind   error
	Entity string
	ID     string
	Field  string
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(e.Entity)
		if e.ID != "" {
			fmt.Fprintf(&b, " %q", e.ID)
		}
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %s", e.Field)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func NotFound(entity, id string) error {
	return &Error{Kind: ErrNotFound, Entity: entity, ID: id}
}

func Validation(field, detail string) error {
	return &Error{Kind: ErrValidation, Field: field, Detail: detail}
}

func Conflict(entity, id, detail string) error {
	return &Error{Kind: ErrConflict, Entity: entity, ID: id, Detail: detail}
}

func Capacity(licenseID string, used, total int) error {
	return &Error{
		Kind:   ErrCapacity,
		Entity: "license",
		ID:     licenseID,
		Detail: fmt.Sprintf("used %d of %d seats", used, total),
	}
}

func Consistency(entity, id, detail string) error {
	return &Error{Kind: ErrConsistency, Entity: entity, ID: id, Detail: detail}
}

func Generation(identifier, detail string) error {
	return &Error{Kind: ErrGeneration, Entity: "identifier", ID: identifier, Detail: detail}
}

// IsDomain reports whether err belongs to the lifecycle error taxonomy, as
// opposed to an infrastructure failure.
func IsDomain(err error) bool {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrCapacity, ErrConsistency, ErrGeneration} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
