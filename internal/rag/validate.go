package rag

import (
	"errors"
	"strings"
)

const (
	minQueryChars = 3
	maxQueryChars = 500
)

// User-facing validation messages. These double as the error strings so the
// API layer can return them verbatim.
const (
	msgEmptyQuery    = "Query cannot be empty"
	msgQueryTooLong  = "Query is too long. Maximum 500 characters allowed."
	msgQueryTooShort = "Query is too short. Please provide at least 3 characters."
)

var (
	ErrEmptyQuery    = errors.New(msgEmptyQuery)
	ErrQueryTooLong  = errors.New(msgQueryTooLong)
	ErrQueryTooShort = errors.New(msgQueryTooShort)

	// ErrNoDocuments refuses a query before any backend call when the user
	// has nothing to search.
	ErrNoDocuments = errors.New("no documents uploaded yet")
)

// ValidateQuery reports whether the query text is acceptable and, when it
// is not, a user-facing message saying why.
func ValidateQuery(query string) (bool, string) {
	if err := validateQuery(query); err != nil {
		return false, err.Error()
	}
	return true, ""
}

func validateQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return ErrEmptyQuery
	}
	if len([]rune(query)) > maxQueryChars {
		return ErrQueryTooLong
	}
	if len([]rune(trimmed)) < minQueryChars {
		return ErrQueryTooShort
	}
	return nil
}
