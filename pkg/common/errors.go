//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package common provides shared types and utilities used across the
// trackauth packages.
//
// # Error Handling
//
// The [AuthError] type provides structured error information for
// authentication and authorization failures, including machine-readable
// reason codes. Expected control-flow conditions (a missing grant, an
// unknown user) travel as AuthError values with well-known codes so that
// callers can branch on them without string matching.
package common

import (
	"errors"
	"fmt"
)

// Reason codes carried by [AuthError].
const (
	// CodeNoCredentials indicates the request presented no credentials at all.
	CodeNoCredentials = "NO_CREDENTIALS"
	// CodeInvalidCredentials indicates HTTP Basic credentials that failed verification.
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	// CodeInvalidToken indicates a bearer token that failed validation for any reason.
	CodeInvalidToken = "INVALID_TOKEN"
	// CodeTokenExpired indicates a bearer token past its expiry claim.
	CodeTokenExpired = "TOKEN_EXPIRED"
	// CodeMalformedToken indicates a bearer token that could not be parsed.
	CodeMalformedToken = "MALFORMED_TOKEN"
	// CodeInvalidSignature indicates a bearer token whose signature did not
	// verify against the provider's key set.
	CodeInvalidSignature = "INVALID_SIGNATURE"
	// CodeInvalidPermission indicates an unrecognized permission name. This is
	// a data/config bug, not a runtime condition.
	CodeInvalidPermission = "INVALID_PERMISSION"
	// CodeResourceDoesNotExist is the expected "no grant stored" signal that
	// drives tier fallthrough in the permission resolver.
	CodeResourceDoesNotExist = "RESOURCE_DOES_NOT_EXIST"
	// CodeNotFound indicates a missing user or entity record.
	CodeNotFound = "NOT_FOUND"
	// CodeForbidden indicates an authenticated caller with insufficient capability.
	CodeForbidden = "FORBIDDEN"
	// CodeStoreError indicates a store or transport failure. Never downgraded
	// to a default permission.
	CodeStoreError = "STORE_ERROR"
)

// AuthError represents an error encountered during credential or permission
// resolution.
//
// AuthError pairs a machine-readable reason code with a human-readable
// message. It is returned instead of ad-hoc errors so that the guard layer
// can map failures onto the correct HTTP status.
type AuthError struct {
	// Code is the machine-readable error classification.
	Code string
	// Reason is a human-readable description of the error.
	Reason string
}

// Error implements the error interface, returning a formatted string
// containing both the reason message and the reason code.
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s(code-%s)", e.Reason, e.Code)
}

// NewError creates a new [AuthError] with the specified reason code and message.
func NewError(code string, msg string) *AuthError {
	return &AuthError{Code: code, Reason: msg}
}

// NewErrorf creates a new [AuthError] with a formatted message.
func NewErrorf(code string, format string, args ...interface{}) *AuthError {
	return &AuthError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is (or wraps) an [AuthError] carrying the given
// reason code.
func IsCode(err error, code string) bool {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// IsNotFound reports whether err represents a missing grant or entity, the
// conditions that drive resolver tier fallthrough.
func IsNotFound(err error) bool {
	return IsCode(err, CodeResourceDoesNotExist) || IsCode(err, CodeNotFound)
}
