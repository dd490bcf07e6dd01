package gerror

import (
	"errors"
	"net/http"
)

const (
	ErrCodeInternal              Code = "Internal"
	ErrCodeValidationFailed      Code = "ValidationFailed"
	ErrCodeInvalidQueryParameter Code = "InvalidQueryParameter"
	ErrCodeNotFound              Code = "NotFound"
	ErrCodeAlreadyExists         Code = "AlreadyExists"
	ErrCodeRouteNotFound         Code = "RouteNotFound"
	ErrCodeQueueUnavailable      Code = "QueueUnavailable"
	ErrCodeStoreUnavailable      Code = "StoreUnavailable"
	ErrCodeTimeout               Code = "Timeout"
)

// ToError locates an Error in the provided error chain and returns it if it
// matches the provided code. Otherwise, returns nil.
func ToError(err error, code Code) *Error {
	if err == nil {
		return nil
	}
	var gErr Error
	if errors.As(err, &gErr) && gErr.Code() == code {
		return &gErr
	}
	return nil
}

func NewErrInternal() Error {
	return NewError(
		"An internal error occurred",
		AudienceExternal,
		ErrCodeInternal,
		http.StatusInternalServerError,
		nil,
	)
}

func ToInternal(err error) *Error {
	return ToError(err, ErrCodeInternal)
}

func IsInternal(err error) bool {
	return ToInternal(err) != nil
}

func NewErrValidationFailed(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeValidationFailed, http.StatusBadRequest, nil)
}

func ToValidationFailed(err error) *Error {
	return ToError(err, ErrCodeValidationFailed)
}

func IsValidationFailed(err error) bool {
	return ToValidationFailed(err) != nil
}

func NewErrInvalidQueryParameter(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeInvalidQueryParameter, http.StatusBadRequest, nil)
}

func ToInvalidQueryParameter(err error) *Error {
	return ToError(err, ErrCodeInvalidQueryParameter)
}

func IsInvalidQueryParameter(err error) bool {
	return ToInvalidQueryParameter(err) != nil
}

func NewErrNotFound(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeNotFound, http.StatusNotFound, nil)
}

func ToNotFound(err error) *Error {
	return ToError(err, ErrCodeNotFound)
}

func IsNotFound(err error) bool {
	return ToNotFound(err) != nil
}

func NewErrAlreadyExists(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeAlreadyExists, http.StatusBadRequest, nil)
}

func ToAlreadyExists(err error) *Error {
	return ToError(err, ErrCodeAlreadyExists)
}

func IsAlreadyExists(err error) bool {
	return ToAlreadyExists(err) != nil
}

// NewErrRouteNotFound is returned when a request names an endpoint the
// router does not know, or the request envelope is malformed.
func NewErrRouteNotFound(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeRouteNotFound, http.StatusNotFound, nil)
}

func ToRouteNotFound(err error) *Error {
	return ToError(err, ErrCodeRouteNotFound)
}

func IsRouteNotFound(err error) bool {
	return ToRouteNotFound(err) != nil
}

// NewErrQueueUnavailable is fatal during startup: the daemon exits non-zero
// when the work queue cannot be initialized.
func NewErrQueueUnavailable(message string, err error) Error {
	return NewError(message, AudienceInternal, ErrCodeQueueUnavailable, http.StatusServiceUnavailable, err)
}

func ToQueueUnavailable(err error) *Error {
	return ToError(err, ErrCodeQueueUnavailable)
}

func IsQueueUnavailable(err error) bool {
	return ToQueueUnavailable(err) != nil
}

// NewErrStoreUnavailable marks a transient store failure. Callers on the
// update path log it and carry on; in-memory state stays authoritative
// until the next successful write.
func NewErrStoreUnavailable(message string, err error) Error {
	return NewError(message, AudienceInternal, ErrCodeStoreUnavailable, http.StatusServiceUnavailable, err)
}

func ToStoreUnavailable(err error) *Error {
	return ToError(err, ErrCodeStoreUnavailable)
}

func IsStoreUnavailable(err error) bool {
	return ToStoreUnavailable(err) != nil
}

func NewErrTimeout(description string) Error {
	return NewError("Timeout: "+description, AudienceInternal, ErrCodeTimeout, http.StatusInternalServerError, nil)
}

func ToTimeout(err error) *Error {
	return ToError(err, ErrCodeTimeout)
}

func IsTimeout(err error) bool {
	return ToTimeout(err) != nil
}
