package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is wrapped by lookups whose target row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMissingRate means neither an exact nor a prior exchange rate exists.
	// Callers must ask for a manual rate; they must never substitute 1.0.
	ErrMissingRate = errors.New("missing exchange rate")

	// ErrIncompleteLines aborts a purchase order save when a touched line
	// lacks an ingredient, a positive quantity or a line total.
	ErrIncompleteLines = errors.New("some lines were incomplete: each used line needs an ingredient, qty and total")
)

// ValidationError reports malformed input that was rejected before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// MissingRateError names the currency and date for which no rate was found.
type MissingRateError struct {
	Currency Currency
	Date     string
}

func (e *MissingRateError) Error() string {
	return fmt.Sprintf("no exchange rate for %s on or before %s", e.Currency, e.Date)
}

func (e *MissingRateError) Is(target error) bool { return target == ErrMissingRate }

func notFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}
