package pipeline

import (
	"errors"
	"fmt"

	"github.com/petscheit/bankai-sub001/internal/core/domain"
)

var (
	// ErrTransient marks a collaborator failure worth retrying
	// (network timeout, rate limiting, temporary unavailability).
	ErrTransient = errors.New("transient collaborator failure")

	// ErrTerminal marks a permanent collaborator rejection. The job goes
	// to Error without further attempts.
	ErrTerminal = errors.New("terminal collaborator failure")

	// ErrStorage marks a persistence failure. A storage error never moves
	// a job to Error: the job keeps its last durable status and the error
	// surfaces to the daemon, which escalates when it persists.
	ErrStorage = errors.New("storage failure")
)

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Terminal wraps err as a permanent failure.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTerminal, err)
}

// Terminalf is Terminal with a formatted message.
func Terminalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTerminal, fmt.Sprintf(format, args...))
}

// Storage wraps err as a persistence failure.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// FailureCategory classifies an external-call failure.
type FailureCategory int

const (
	CategoryTransient FailureCategory = iota
	CategoryTerminal
)

// Classifier maps an error to its failure category.
type Classifier func(err error) FailureCategory

// DefaultClassifier treats explicitly terminal failures and invariant
// violations as terminal, everything else as transient. Unknown errors
// default to transient: a retried call is safe, a skipped one loses work.
func DefaultClassifier(err error) FailureCategory {
	if errors.Is(err, ErrTerminal) || errors.Is(err, domain.ErrInvariant) {
		return CategoryTerminal
	}
	return CategoryTransient
}
