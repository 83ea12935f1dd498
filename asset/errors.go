package asset

import (
	"errors"
	"fmt"
)

// NetworkError is returned when a remote resource could not be retrieved.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetching %q: %s", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IOError is returned when a local filesystem operation fails while installing an asset.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// FailureKind classifies why an asset could not be provisioned.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureNetwork
	FailureIO
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureNetwork:
		return "network"
	case FailureIO:
		return "io"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Classify returns the failure kind of err.
// Anything that isn't a network error is treated as a local I/O failure.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return FailureNetwork
	}
	return FailureIO
}
