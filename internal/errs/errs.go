// Package errs defines the error sentinels shared by the ring, log device,
// and connection handler. Each exported error is classified by Kind so
// callers can decide whether to retry, close a connection, or propagate.
package errs

import "errors"

// Sentinel errors returned by internal/logdev. Wrap with fmt.Errorf("...: %w", ...) at call sites
// and unwrap with errors.Is / Kind.
var (
	// Fault indicates an invalid caller handle or a user-buffer copy
	// failure. The log is left unmodified.
	Fault = errors.New("errs: fault")

	// Interrupted indicates a lock wait was aborted. The caller may retry.
	Interrupted = errors.New("errs: interrupted")

	// OutOfMemory indicates a record buffer allocation failed. Any
	// in-progress partial record is left byte-identical to before the call.
	OutOfMemory = errors.New("errs: out of memory")

	// Invalid indicates a seek past the end of the log, a seek on an empty
	// ring, or a seek offset strictly greater than the target record's
	// length. No state change occurs.
	Invalid = errors.New("errs: invalid")

	// Unsupported indicates an unrecognised seek/ioctl directive variant.
	Unsupported = errors.New("errs: unsupported")
)

// Kind returns the sentinel that classifies err, or nil if err does not
// match any of the kinds above.
func Kind(err error) error {
	for _, kind := range []error{Fault, Interrupted, OutOfMemory, Invalid, Unsupported} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
