// Package errors provides structured error types used across the catalog.
// We prefer these over raw fmt.Errorf strings to enable reliable checks with
// errors.Is / errors.As and to carry minimal context about the failure.
package errors

import (
	"errors"
	"fmt"
)

// ValidationError indicates invalid input/config/state provided by a caller.
type ValidationError struct {
	Op  string // where it happened (package.Function)
	Msg string // human friendly message
	Err error  // underlying cause (optional)
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("validation: %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("validation: %s: %s", e.Op, e.Msg)
}

func (e *ValidationError) Unwrap() error     { return e.Err }
func (e *ValidationError) Operation() string { return e.Op }

func NewValidation(op, msg string, err error) error {
	return &ValidationError{Op: op, Msg: msg, Err: err}
}

// DBError represents catalog database access/operation failures.
type DBError struct {
	Op  string
	Msg string
	Err error
}

func (e *DBError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("db: %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("db: %s: %s", e.Op, e.Msg)
}

func (e *DBError) Unwrap() error     { return e.Err }
func (e *DBError) Operation() string { return e.Op }

func NewDB(op, msg string, err error) error { return &DBError{Op: op, Msg: msg, Err: err} }

// ScrapeError represents failures while fetching or parsing a roaster page.
// Roaster identifies the source site for log grouping.
type ScrapeError struct {
	Op      string
	Roaster string
	Msg     string
	Err     error
}

func (e *ScrapeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("scrape[%s]: %s: %s: %v", e.Roaster, e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("scrape[%s]: %s: %s", e.Roaster, e.Op, e.Msg)
}

func (e *ScrapeError) Unwrap() error     { return e.Err }
func (e *ScrapeError) Operation() string { return e.Op }

func NewScrape(op, roaster, msg string, err error) error {
	return &ScrapeError{Op: op, Roaster: roaster, Msg: msg, Err: err}
}

// ExternalAPIError represents failures in external services (OpenAI, Google
// Maps geocoding).
type ExternalAPIError struct {
	Op     string
	Msg    string
	Err    error
	System string // e.g. "openai" / "googlemaps"
}

func (e *ExternalAPIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	sys := e.System
	if sys == "" {
		sys = "external"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", sys, e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", sys, e.Op, e.Msg)
}

func (e *ExternalAPIError) Unwrap() error     { return e.Err }
func (e *ExternalAPIError) Operation() string { return e.Op }

func NewExternal(op, system, msg string, err error) error {
	return &ExternalAPIError{Op: op, System: system, Msg: msg, Err: err}
}

// IsKind helpers: allow callers to check error kind without type assertions.
var (
	ErrValidation = &ValidationError{}
	ErrDB         = &DBError{}
	ErrScrape     = &ScrapeError{}
	ErrExternal   = &ExternalAPIError{}
)

// Is enables errors.Is(err, ErrValidation) style kind checks. We delegate to
// errors.As with the zero-value pointer of each type.
func Is(err, target error) bool {
	if err == nil || target == nil {
		return errors.Is(err, target)
	}
	switch target.(type) {
	case *ValidationError:
		var v *ValidationError
		return errors.As(err, &v)
	case *DBError:
		var d *DBError
		return errors.As(err, &d)
	case *ScrapeError:
		var s *ScrapeError
		return errors.As(err, &s)
	case *ExternalAPIError:
		var ex *ExternalAPIError
		return errors.As(err, &ex)
	default:
		return errors.Is(err, target)
	}
}
