package redisflow

import (
	"errors"
	"fmt"
)

var (
	// ErrHandlerPanic is wrapped by a HandlerError when user code panicked.
	ErrHandlerPanic = errors.New("redisflow: handler panicked")
	// ErrStopped is returned when registering with a component that was stopped.
	ErrStopped = errors.New("redisflow: component stopped")
)

// StoreError reports a failed store round-trip (connectivity, timeout, server error).
// These are transient: background loops report them and retry on the next iteration.
type StoreError struct {
	Op  string // e.g. "xreadgroup", "publish", "set"
	Key string // stream, channel or storage key
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("redisflow: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("redisflow: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// HandlerError wraps an error returned (or a panic raised) by user-supplied
// dispatch logic. Source names the delivery path, e.g. "stream:orders/my-group/consumer-1".
type HandlerError struct {
	Source string
	ID     string // stream entry ID or channel name; empty for scheduled tasks
	Err    error
}

func (e *HandlerError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("redisflow: handler %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("redisflow: handler %s [%s]: %v", e.Source, e.ID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// SerializationError reports a value that could not be encoded, or a stored
// entry/message body that could not be decoded.
type SerializationError struct {
	Op     string // "encode" or "decode"
	Source string
	Err    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("redisflow: %s %s: %v", e.Op, e.Source, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// ConfigError is returned at construction/registration time for invalid
// settings. Nothing is started when a ConfigError is returned.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("redisflow: invalid %s: %s", e.Field, e.Reason)
}

// EvictError is returned when both the generation bump and the delete failed
// during Evict, i.e. the entry may still be served.
type EvictError struct {
	Key     string
	BumpErr error
	DelErr  error
}

func (e *EvictError) Error() string {
	return fmt.Sprintf("redisflow: evict %q failed: bump=%v; delete=%v", e.Key, e.BumpErr, e.DelErr)
}

func (e *EvictError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}

// IsTransient reports whether err is (or wraps) a StoreError.
func IsTransient(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
