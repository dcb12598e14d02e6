package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrUnexpectedStatus is wrapped by every FetchError.
	ErrUnexpectedStatus = errors.New("unexpected status")

	// ErrDecode is wrapped by every DecodeError.
	ErrDecode = errors.New("decode response")
)

// ErrorClass represents a classification of failed upstream requests.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassUnexpected represents any other non-200 status (1xx, 2xx, 3xx).
	ErrorClassUnexpected ErrorClass = "unexpected"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents bodies that are not valid JSON for the target.
	ErrorClassDecode ErrorClass = "decode"
)

// FetchError is returned when the upstream API answers with anything but 200 OK.
type FetchError struct {
	Path       string
	StatusCode int
	Status     string
	ErrorClass ErrorClass
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("query to %s returned %d (%s error)", e.Path, e.StatusCode, e.ErrorClass)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return ErrUnexpectedStatus
}

// DecodeError is returned when a 200 response body cannot be decoded.
type DecodeError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s from %s: %v", ErrDecode, e.Path, e.Err)
}

// Unwrap returns both the sentinel and the underlying decoder error.
func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}
