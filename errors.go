package arxiv

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when an article is not in the store.
	ErrNotFound = errors.New("arxiv: article not found")

	// ErrInvalidID is returned for identifiers that are not arXiv ids.
	ErrInvalidID = errors.New("arxiv: invalid article id")

	// ErrInvalidTag is returned for tag names that contain whitespace or
	// other characters outside [A-Za-z0-9._+-].
	ErrInvalidTag = errors.New("arxiv: invalid tag")

	// ErrBadResumptionToken is wrapped by the OAI client when the endpoint
	// rejects a resumption token. The harvest restarts from its last
	// completed date.
	ErrBadResumptionToken = errors.New("arxiv: bad resumption token")
)

// NetworkError is a transient transport failure (connection reset, timeout, 5xx).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// RateLimitedError means the feed asked us to slow down.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

// ProtocolError means the feed returned something we cannot interpret.
// It is never retried.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "protocol: " + e.Msg + ": " + e.Err.Error()
	}
	return "protocol: " + e.Msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// StorageError wraps a failure of the record store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Kind is the coarse class of an error, used to decide between retrying,
// aborting a category and aborting a run.
type Kind int

const (
	KindOther Kind = iota
	KindTransient
	KindProtocol
	KindStorage
	KindUserInput
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindProtocol:
		return "protocol"
	case KindStorage:
		return "storage"
	case KindUserInput:
		return "user-input"
	}
	return "other"
}

// ErrorKind classifies err.
func ErrorKind(err error) Kind {
	var (
		ne *NetworkError
		re *RateLimitedError
		pe *ProtocolError
		se *StorageError
		fe *FilterError
	)
	switch {
	case err == nil:
		return KindOther
	case errors.As(err, &se):
		return KindStorage
	case errors.As(err, &re), errors.As(err, &ne):
		return KindTransient
	case errors.As(err, &pe):
		return KindProtocol
	case errors.As(err, &fe), errors.Is(err, ErrInvalidID), errors.Is(err, ErrInvalidTag):
		return KindUserInput
	}
	return KindOther
}
