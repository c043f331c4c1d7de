package firmware

import (
	"errors"
	"fmt"
)

// ErrIntegrityCheckFailed is wrapped by every integrity failure: a
// detached checksum mismatch, or an image stream that yields a byte
// count different from its declared size.
var ErrIntegrityCheckFailed = errors.New("integrity check failed")

// IntegrityError describes an integrity failure for a container or one
// of its images.
type IntegrityError struct {
	// Name is the container path or image name
	Name string

	// Reason is a short description of the failure
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Name, ErrIntegrityCheckFailed, e.Reason)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrityCheckFailed }
