package whitelist

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/ernie/whitelister/internal/resolver"
)

var (
	ErrResolutionTimeout   = errors.New("identity lookup timed out")
	ErrResolutionTransport = errors.New("identity lookup failed")
)

// ValidationError is a user-correctable syntax problem. Error returns the
// text shown to the requester.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// PolicyError is a request refused by a rule rather than by syntax
type PolicyError struct {
	Rule   string // "role" or "duplicate"
	Reason string
}

func (e *PolicyError) Error() string {
	return e.Reason
}

// StorageError is a failed store read or write. It is fatal to one request.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// classifyResolution maps a resolver error to the degraded-mode taxonomy.
// A nil result means the name simply does not exist.
func classifyResolution(err error) error {
	if err == nil || errors.Is(err, resolver.ErrNotFound) {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrResolutionTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrResolutionTransport, err)
}
