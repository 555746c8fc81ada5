// Package errors provides the typed error taxonomy returned by every public
// operation in the swarm coordination core. No component panics or uses a
// shared exception type; callers branch on Code, not on error strings.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies which taxonomy category and specific condition an error
// belongs to. Numeric bands group related conditions the way a production
// error registry would, so new codes slot into the right band at a glance.
type Code string

const (
	// NotFound — 1xxx
	CodeUnknownAgent Code = "1001_UNKNOWN_AGENT"
	CodeUnknownKey   Code = "1002_UNKNOWN_KEY"
	CodeUnknownHook  Code = "1003_UNKNOWN_HOOK"

	// AlreadyExists — 2xxx
	CodeDuplicateAgent Code = "2001_DUPLICATE_AGENT"
	CodeDuplicateHook  Code = "2002_DUPLICATE_HOOK"

	// InvalidArgument — 3xxx
	CodeInvalidMetadata   Code = "3001_INVALID_METADATA"
	CodeInvalidStrategy   Code = "3002_INVALID_STRATEGY"
	CodeInvalidCRDTType   Code = "3003_INVALID_CRDT_TYPE"
	CodeInvalidConflicts  Code = "3004_INVALID_CONFLICTS"
	CodeInvalidOptions    Code = "3005_INVALID_OPTIONS"
	CodeInvalidTopologyOp Code = "3006_INVALID_TOPOLOGY_OP"

	// Precondition — 4xxx
	CodeNoQuorum               Code = "4001_NO_QUORUM"
	CodeInsufficientResponses  Code = "4002_INSUFFICIENT_RESPONSES"
	CodeInvalidTransition      Code = "4003_INVALID_TRANSITION"
	CodeAlreadyMonitored       Code = "4004_ALREADY_MONITORED"
	CodeNotMonitored           Code = "4005_NOT_MONITORED"
	CodeSyncInProgress         Code = "4006_SYNC_IN_PROGRESS"
	CodeTopologyError          Code = "4007_TOPOLOGY_ERROR"

	// Timeout — 5xxx
	CodeConsensusTimeout Code = "5001_CONSENSUS_TIMEOUT"
	CodeSyncTimeout      Code = "5002_SYNC_TIMEOUT"
	CodeHookTimeout      Code = "5003_HOOK_TIMEOUT"

	// Internal — 6xxx
	CodeStorageFailure  Code = "6001_STORAGE_FAILURE"
	CodeProviderFailure Code = "6002_PROVIDER_FAILURE"
)

// Category buckets codes into the six families from spec §7.
type Category string

const (
	CategoryNotFound        Category = "not_found"
	CategoryAlreadyExists   Category = "already_exists"
	CategoryInvalidArgument Category = "invalid_argument"
	CategoryPrecondition    Category = "precondition"
	CategoryTimeout         Category = "timeout"
	CategoryInternal        Category = "internal"
)

var categoryByCode = map[Code]Category{
	CodeUnknownAgent: CategoryNotFound,
	CodeUnknownKey:    CategoryNotFound,
	CodeUnknownHook:   CategoryNotFound,

	CodeDuplicateAgent: CategoryAlreadyExists,
	CodeDuplicateHook:  CategoryAlreadyExists,

	CodeInvalidMetadata:   CategoryInvalidArgument,
	CodeInvalidStrategy:   CategoryInvalidArgument,
	CodeInvalidCRDTType:   CategoryInvalidArgument,
	CodeInvalidConflicts:  CategoryInvalidArgument,
	CodeInvalidOptions:    CategoryInvalidArgument,
	CodeInvalidTopologyOp: CategoryInvalidArgument,

	CodeNoQuorum:              CategoryPrecondition,
	CodeInsufficientResponses: CategoryPrecondition,
	CodeInvalidTransition:     CategoryPrecondition,
	CodeAlreadyMonitored:      CategoryPrecondition,
	CodeNotMonitored:          CategoryPrecondition,
	CodeSyncInProgress:        CategoryPrecondition,
	CodeTopologyError:         CategoryPrecondition,

	CodeConsensusTimeout: CategoryTimeout,
	CodeSyncTimeout:      CategoryTimeout,
	CodeHookTimeout:      CategoryTimeout,

	CodeStorageFailure:  CategoryInternal,
	CodeProviderFailure: CategoryInternal,
}

// Error is the concrete error type returned by swarm core operations.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Category returns the taxonomy family this error's code belongs to.
func (e *Error) Category() Category {
	return categoryByCode[e.Code]
}

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error with the given code, message, and underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithContext attaches structured context to an error and returns it.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the Code from err, if it (or something it wraps) is an
// *Error. Returns ("", false) otherwise.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
