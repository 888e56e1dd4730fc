package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by repositories on a unique-constraint hit.
var ErrDuplicate = errors.New("duplicate record")

// AuthError is the operation-level failure surfaced to the HTTP boundary.
type AuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func newAuthError(code, desc string, status int) *AuthError {
	return &AuthError{Code: code, Description: desc, Status: status}
}

// ErrValidation covers bad input and uniqueness violations.
func ErrValidation(desc string) *AuthError {
	return newAuthError("invalid_request", desc, http.StatusBadRequest)
}

// ErrInvalidCredentials is deliberately generic: the response never
// distinguishes an unknown account from a wrong password.
func ErrInvalidCredentials() *AuthError {
	return newAuthError("invalid_credentials", "Incorrect username or password.", http.StatusUnauthorized)
}

// ErrUnauthenticated covers missing, malformed, expired, and stale tokens.
func ErrUnauthenticated(desc string) *AuthError {
	return newAuthError("unauthenticated", desc, http.StatusUnauthorized)
}

// ErrForbidden signals an authenticated user lacking the required role.
func ErrForbidden() *AuthError {
	return newAuthError("forbidden", "You do not have permission to perform this action.", http.StatusForbidden)
}

// ErrInvalidOrExpiredToken collapses "no such reset token" and "expired"
// into a single signal.
func ErrInvalidOrExpiredToken() *AuthError {
	return newAuthError("invalid_or_expired_token", "Token is invalid or has expired.", http.StatusBadRequest)
}

// ErrEmailDelivery reports a mail transport failure after reset state
// has been rolled back.
func ErrEmailDelivery() *AuthError {
	return newAuthError("email_delivery_failed", "There was an error sending the email. Try again later.", http.StatusInternalServerError)
}
