package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hanko-field/clinic-commerce/internal/repositories"
)

// Stable failure categories shared by the ledgers, the order saga and the booking manager.
var (
	ErrValidation                = errors.New("validation failed")
	ErrNotFound                  = errors.New("not found")
	ErrInsufficientStock         = errors.New("insufficient stock")
	ErrSlotConflict              = errors.New("slot conflict")
	ErrHolidayClosed             = errors.New("closed for holiday")
	ErrOutsideWorkingHours       = errors.New("outside working hours")
	ErrInvalidTimeFormat         = errors.New("invalid time format")
	ErrInvalidTransition         = errors.New("invalid transition")
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
	ErrForbidden                 = errors.New("forbidden")
	ErrInternal                  = errors.New("internal failure")
)

// Kind is the caller-facing identifier of an error category.
type Kind string

const (
	KindValidation                Kind = "validation_error"
	KindNotFound                  Kind = "not_found"
	KindInsufficientStock         Kind = "insufficient_stock"
	KindSlotConflict              Kind = "slot_conflict"
	KindHolidayClosed             Kind = "holiday_closed"
	KindOutsideWorkingHours       Kind = "outside_working_hours"
	KindInvalidTimeFormat         Kind = "invalid_time_format"
	KindInvalidTransition         Kind = "invalid_transition"
	KindPaymentVerificationFailed Kind = "payment_verification_failed"
	KindForbidden                 Kind = "forbidden"
	KindInternal                  Kind = "internal_failure"
)

var kindOrder = []struct {
	err  error
	kind Kind
}{
	{ErrInsufficientStock, KindInsufficientStock},
	{ErrValidation, KindValidation},
	{ErrInvalidTimeFormat, KindInvalidTimeFormat},
	{ErrNotFound, KindNotFound},
	{ErrSlotConflict, KindSlotConflict},
	{ErrHolidayClosed, KindHolidayClosed},
	{ErrOutsideWorkingHours, KindOutsideWorkingHours},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrPaymentVerificationFailed, KindPaymentVerificationFailed},
	{ErrForbidden, KindForbidden},
}

// ErrorKind classifies err. Anything outside the taxonomy is reported as an internal failure.
func ErrorKind(err error) Kind {
	if err == nil {
		return ""
	}
	for _, entry := range kindOrder {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternal
}

// FieldError describes one offending field or cart line.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports every offending field, not only the first. When every failure is a
// stock shortfall the error also matches ErrInsufficientStock.
type ValidationError struct {
	Fields []FieldError

	shortfalls int
}

// Add records a field failure.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// AddShortfall records a line whose requested quantity exceeds available stock.
func (e *ValidationError) AddShortfall(field, message string) {
	e.Add(field, message)
	e.shortfalls++
}

// Is reports stock-only validation failures as ErrInsufficientStock.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInsufficientStock && e != nil && e.shortfalls > 0 && e.shortfalls == len(e.Fields)
}

// Empty reports whether no failure was recorded.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// Err returns e as an error, or nil when nothing was recorded.
func (e *ValidationError) Err() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StockError lists every cart line that could not be reserved.
type StockError struct {
	Lines []FieldError
}

func (e *StockError) Error() string {
	parts := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		parts = append(parts, l.Field+": "+l.Message)
	}
	return ErrInsufficientStock.Error() + ": " + strings.Join(parts, "; ")
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// FieldErrors extracts per-field details carried by validation or stock errors.
func FieldErrors(err error) []FieldError {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return validation.Fields
	}
	var stock *StockError
	if errors.As(err, &stock) {
		return stock.Lines
	}
	return nil
}

func validationFailure(field, message string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

func notFound(entity, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, entity, id)
}

// translateError maps store failures onto the taxonomy at an operation boundary. Errors already
// in the taxonomy and context cancellations pass through untouched.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if ErrorKind(err) != KindInternal {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %s: %v", ErrNotFound, op, err)
	}
	if errors.Is(err, ErrInternal) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
}

// lookupError converts a not-found read into ErrNotFound for the named entity.
func lookupError(entity, id string, err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return notFound(entity, id)
	}
	return err
}
