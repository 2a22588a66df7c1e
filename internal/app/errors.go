package app

import (
	"fmt"
	"net/http"
)

// DomainError is the error shape the HTTP layer serializes: a status, a
// stable machine-readable code (VALIDATION_ERROR, INVALID_STATE, ...) and
// an optional details payload pointing at the offending field.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// errValidation rejects caller input: missing title, zero media refs, a city
// outside its state, an empty resolution note.
func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

// errUnavailable reports a backend that is not wired or not reachable.
func errUnavailable(message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, "STORE_UNAVAILABLE", message, nil)
}
