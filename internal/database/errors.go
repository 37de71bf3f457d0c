package database

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/gocql/gocql"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassTimeout
	ErrorClassUnavailable
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	if errors.Is(err, context.Canceled) {
		return ErrorClassPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, gocql.ErrTimeoutNoResponse) {
		return ErrorClassTimeout
	}
	if errors.Is(err, gocql.ErrNoConnections) || errors.Is(err, gocql.ErrConnectionClosed) ||
		errors.Is(err, gocql.ErrSessionClosed) {
		return ErrorClassUnavailable
	}

	var unavailable *gocql.RequestErrUnavailable
	if errors.As(err, &unavailable) {
		return ErrorClassUnavailable
	}
	var writeTimeout *gocql.RequestErrWriteTimeout
	if errors.As(err, &writeTimeout) {
		return ErrorClassTimeout
	}
	var readTimeout *gocql.RequestErrReadTimeout
	if errors.As(err, &readTimeout) {
		return ErrorClassTimeout
	}

	var reqErr gocql.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Code() {
		case gocql.ErrCodeOverloaded, gocql.ErrCodeBootstrapping, gocql.ErrCodeTruncate:
			return ErrorClassTransient
		case gocql.ErrCodeUnavailable:
			return ErrorClassUnavailable
		case gocql.ErrCodeWriteTimeout, gocql.ErrCodeReadTimeout:
			return ErrorClassTimeout
		}
		return ErrorClassPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorClassTimeout
		}
		return ErrorClassTransient
	}

	return ErrorClassPermanent
}

// IsRetryable reports whether a caller may safely re-issue the failed
// statement. Store operations never retry on their own.
func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassTimeout ||
		class == ErrorClassUnavailable
}

var (
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrStoreOperation       = errors.New("store operation failed")
	ErrProductNotFound      = errors.New("product not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrTransitionNotAllowed = errors.New("status transition not allowed")
)

// StoreError is returned for every driver failure other than absence.
// Op names the step that failed, so a torn multi-step write can be traced
// to the projection it left behind.
type StoreError struct {
	Op    string
	Table string
	Err   error
}

func (e *StoreError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s [table=%s]: %v", e.Op, e.Table, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreOperation
}

func WrapError(err error, op, table string) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Table: table, Err: err}
}
