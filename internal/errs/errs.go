package errs

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a missing or malformed metadata file, an unknown
// label name, or a filename that has no label.
type ConfigurationError struct {
	Op   string
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("configuration: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("configuration: %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// StorageError reports a cache directory that cannot be read or written, or a
// cached entry that cannot be decoded.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// DecodeError reports a video that could not be read or produced no frames.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ContractViolationError reports input of the wrong shape, e.g. a batch of more
// than one sequence handed to the classifier.
type ContractViolationError struct {
	Op  string
	Msg string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("contract violation: %s: %s", e.Op, e.Msg)
}

// ContractViolation builds a ContractViolationError with a formatted message.
func ContractViolation(op, format string, args ...any) error {
	return &ContractViolationError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

func IsConfiguration(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

func IsStorage(err error) bool {
	var e *StorageError
	return errors.As(err, &e)
}

func IsDecode(err error) bool {
	var e *DecodeError
	return errors.As(err, &e)
}

func IsContractViolation(err error) bool {
	var e *ContractViolationError
	return errors.As(err, &e)
}
