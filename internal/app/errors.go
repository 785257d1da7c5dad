package app

import (
	"fmt"
	"net/http"
)

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

func errValidation(message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION", message, nil)
}

func errInvalidAccount(account string, valid []string) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_ACCOUNT",
		fmt.Sprintf("unknown account %q", account),
		map[string]any{"validAccounts": valid})
}

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func errMergeRejected(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "MERGE_REJECTED", message, nil)
}
