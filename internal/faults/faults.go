// internal/faults/faults.go
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for propagation and user messaging.
type Kind int

const (
	// NotFound: no pool or account matches the request.
	NotFound Kind = iota
	// InvalidState: missing mint authority, missing fee account, zero supply.
	InvalidState
	// Infeasible: the requested proceeds exceed the pool's reserve.
	Infeasible
	// NetworkFailure: transport error on fetch/send, recoverable by retry.
	NetworkFailure
	// Timeout: confirmation not observed within the configured bound.
	Timeout
	// LedgerRejected: the program returned an execution error.
	LedgerRejected
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case InvalidState:
		return "invalid_state"
	case Infeasible:
		return "infeasible"
	case NetworkFailure:
		return "network_failure"
	case Timeout:
		return "timeout"
	case LedgerRejected:
		return "ledger_rejected"
	default:
		return "unknown"
	}
}

// Fault wraps an error with its taxonomy kind. Detail carries secondary
// diagnostics (e.g. a program log line from a best-effort simulation); it is
// informational only and never changes the terminal outcome.
type Fault struct {
	Kind   Kind
	Detail string
	Err    error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// New creates a Fault from a message.
func New(kind Kind, msg string) *Fault {
	return &Fault{Kind: kind, Err: errors.New(msg)}
}

// Wrap attaches a kind and operation context to an existing error.
func Wrap(kind Kind, context string, err error) *Fault {
	return &Fault{Kind: kind, Err: fmt.Errorf("%s: %w", context, err)}
}

// KindOf extracts the Kind from an error chain. Unclassified errors are
// reported as NetworkFailure, the conservative "please retry" bucket.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return NetworkFailure
}

// Is lets errors.Is match any fault of the same kind.
func (f *Fault) Is(target error) bool {
	var other *Fault
	if errors.As(target, &other) {
		return f.Kind == other.Kind
	}
	return false
}

// Retryable reports whether the failure class is worth re-approving and
// retrying (network and timeout faults), as opposed to fatal/explanatory.
func Retryable(err error) bool {
	switch KindOf(err) {
	case NetworkFailure, Timeout:
		return true
	default:
		return false
	}
}

// UserMessage renders the failure as a human-readable notification,
// distinguishing retriable conditions from fatal ones. A LedgerRejected
// fault's program log, when present, is surfaced as the explanation.
func UserMessage(err error) string {
	var f *Fault
	if !errors.As(err, &f) {
		return "Network error. Please retry and re-approve the transaction."
	}
	switch f.Kind {
	case NotFound:
		return "No pool exists for this token pair."
	case InvalidState:
		return fmt.Sprintf("Pool is not usable: %v.", f.Err)
	case Infeasible:
		return "The pool cannot cover the requested amount."
	case NetworkFailure:
		return "Network error. Please retry and re-approve the transaction."
	case Timeout:
		return "Timed out awaiting confirmation. Please retry and re-approve the transaction."
	case LedgerRejected:
		if f.Detail != "" {
			return fmt.Sprintf("Transaction failed: %s", f.Detail)
		}
		return fmt.Sprintf("Transaction failed: %v", f.Err)
	default:
		return fmt.Sprintf("Operation failed: %v", f.Err)
	}
}
