package zabbix

import (
	"errors"
	"fmt"
)

// APIError is a JSON-RPC error returned by Zabbix that retrying will not fix,
// such as a validation failure.
type APIError struct {
	Method  string
	Code    int
	Message string
	Data    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zabbix %s: %s (%d): %s", e.Method, e.Message, e.Code, e.Data)
}

// TransientError is a failure worth retrying: network errors, timeouts,
// server errors and sessions that could not be renewed.
type TransientError struct {
	Method string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("zabbix %s: %v", e.Method, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err (or anything it wraps) is an APIError.
func IsPermanent(err error) bool {
	var ae *APIError
	return errors.As(err, &ae)
}
