package task

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kazz187/taskdesk/pkg/cerr"
	"github.com/kazz187/taskdesk/pkg/storage"
)

// Error kinds shared by every engine. Each is wrapped in a *cerr.Error whose
// code carries the kind across the RPC boundary.
var (
	ErrNotAuthorized     = errors.New("not authorized")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyProcessed  = errors.New("already processed")
	ErrAlreadyClaimed    = errors.New("already claimed")
	ErrValidation        = errors.New("validation failed")

	// ErrStale is returned by conditional repository writes whose expected
	// version no longer matches the stored record.
	ErrStale = errors.New("record changed since it was read")
)

type Kind string

const (
	KindNone              Kind = ""
	KindNotAuthorized     Kind = "NotAuthorized"
	KindInvalidTransition Kind = "InvalidTransition"
	KindAlreadyProcessed  Kind = "AlreadyProcessed"
	KindAlreadyClaimed    Kind = "AlreadyClaimed"
	KindValidation        Kind = "ValidationError"
	KindStoreUnavailable  Kind = "StoreUnavailable"
	KindOther             Kind = "Other"
)

func NotAuthorized(format string, args ...any) error {
	return cerr.NewError(cerr.PermissionDenied, fmt.Sprintf(format, args...), ErrNotAuthorized)
}

func InvalidTransition(format string, args ...any) error {
	return cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf(format, args...), ErrInvalidTransition)
}

func AlreadyProcessed(format string, args ...any) error {
	return cerr.NewError(cerr.AlreadyExists, fmt.Sprintf(format, args...), ErrAlreadyProcessed)
}

func AlreadyClaimed(format string, args ...any) error {
	return cerr.NewError(cerr.Aborted, fmt.Sprintf(format, args...), ErrAlreadyClaimed)
}

func ValidationError(field, ruleID, msg string) error {
	return cerr.NewError(cerr.InvalidArgument, msg, ErrValidation).WithViolation(field, ruleID, msg)
}

func StaleError(record, id string) error {
	return cerr.NewError(cerr.AlreadyExists, fmt.Sprintf("%s %s was modified concurrently", record, id), ErrStale)
}

// KindOf classifies err. Errors decoded from a Connect response carry no
// sentinel and are classified by code.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotAuthorized):
		return KindNotAuthorized
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrAlreadyProcessed), errors.Is(err, ErrStale):
		return KindAlreadyProcessed
	case errors.Is(err, ErrAlreadyClaimed):
		return KindAlreadyClaimed
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, storage.ErrUnavailable):
		return KindStoreUnavailable
	}
	switch cerr.CodeOf(err) {
	case cerr.PermissionDenied:
		return KindNotAuthorized
	case cerr.FailedPrecondition:
		return KindInvalidTransition
	case cerr.AlreadyExists:
		return KindAlreadyProcessed
	case cerr.Aborted:
		return KindAlreadyClaimed
	case cerr.InvalidArgument:
		return KindValidation
	case cerr.Unavailable:
		return KindStoreUnavailable
	}
	return KindOther
}

// IsAlreadyHandled reports whether err is the benign outcome of another actor
// having acted first.
func IsAlreadyHandled(err error) bool {
	switch KindOf(err) {
	case KindInvalidTransition, KindAlreadyProcessed, KindAlreadyClaimed:
		return true
	}
	return false
}

const MinReasonLength = 20

// ValidateReason enforces the minimum length of assignment rejection reasons,
// counted in characters after trimming surrounding whitespace.
func ValidateReason(reason string) error {
	if utf8.RuneCountInString(strings.TrimSpace(reason)) < MinReasonLength {
		return ValidationError("reason", "reason.min_len",
			fmt.Sprintf("reason must be at least %d characters", MinReasonLength))
	}
	return nil
}
