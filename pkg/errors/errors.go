package errors

import (
	"errors"
	"fmt"
)

// TimeoutError reports that a registry query did not answer within the
// configured deadline. The collection engine treats it differently from
// every other failure: it arms the per-endpoint skip cascade.
type TimeoutError struct {
	Endpoint string
	Err      error
}

// NewTimeoutError constructs a TimeoutError.
func NewTimeoutError(endpoint string, err error) error {
	return &TimeoutError{Endpoint: endpoint, Err: err}
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return ""
	}
	if e.Endpoint != "" {
		return fmt.Sprintf("timeout: %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("timeout: %v", e.Err)
}

// Unwrap exposes the underlying error.
func (e *TimeoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ProtocolError represents a well-formed failure response from the
// registry, such as a SOAP fault or a REST error document.
type ProtocolError struct {
	Operation string
	Message   string
	Err       error
}

// NewProtocolError constructs a ProtocolError.
func NewProtocolError(operation, message string, err error) error {
	return &ProtocolError{Operation: operation, Message: message, Err: err}
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return ""
	}
	if e.Operation != "" {
		return fmt.Sprintf("protocol error: %s: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ProtocolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ParseError represents malformed content: an unreadable configuration
// file, a response that is not valid XML/JSON/YAML, or a description
// document missing required structure.
type ParseError struct {
	Source  string
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(source string, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Source: source, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	if e.Source != "" {
		return fmt.Sprintf("parse error: %s: %s", e.Source, e.Message)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TransportError represents a connection or TLS failure that occurred
// before any protocol exchange took place.
type TransportError struct {
	Endpoint string
	Err      error
}

// NewTransportError constructs a TransportError.
func NewTransportError(endpoint string, err error) error {
	return &TransportError{Endpoint: endpoint, Err: err}
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("transport error: %s: %v", e.Endpoint, e.Err)
}

// Unwrap exposes the underlying error.
func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StorageError represents a persistence backend failure. It is fatal for
// the run: a snapshot that is not durably persisted has no value.
type StorageError struct {
	Backend   string
	Operation string
	Err       error
}

// NewStorageError constructs a StorageError.
func NewStorageError(backend, operation string, err error) error {
	return &StorageError{Backend: backend, Operation: operation, Err: err}
}

func (e *StorageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("storage error: %s: %s: %v", e.Backend, e.Operation, e.Err)
}

// Unwrap exposes the underlying error.
func (e *StorageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures configuration validation issues. It is fatal
// at startup, before any network activity.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTimeout reports whether err is, or wraps, a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsProtocol reports whether err is, or wraps, a ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsStorage reports whether err is, or wraps, a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
