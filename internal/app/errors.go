package app

import (
	"errors"
	"fmt"
)

// Kind classifies a run error for the loop's logging and retry policy.
// Every kind is handled at the run boundary; none stops the process.
type Kind int

const (
	// KindTransient covers query and transport failures. Nothing was
	// committed, so the next cycle retries the same candidates.
	KindTransient Kind = iota

	// KindConfig covers validation failures (missing columns, bad query
	// file, missing settings). The process keeps cycling so a config
	// fix takes effect without a redeploy.
	KindConfig

	// KindPersist means the tracking file could not be written after a
	// successful delivery. Logged as critical: the next run will
	// re-notify whatever was just sent.
	KindPersist

	// KindInternal covers recovered panics and anything unclassified.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindConfig:
		return "config"
	case KindPersist:
		return "persist"
	default:
		return "internal"
	}
}

// RunError wraps a single run's failure with its classification.
type RunError struct {
	Kind Kind
	Err  error
}

func (e *RunError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }

func (e *RunError) Unwrap() error { return e.Err }

func runErr(kind Kind, format string, args ...any) *RunError {
	return &RunError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// kindOf extracts the classification, defaulting to internal.
func kindOf(err error) Kind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}
