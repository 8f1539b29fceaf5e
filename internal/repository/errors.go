// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers and middleware to distinguish between different failure
// scenarios without inspecting driver-specific errors. For example,
// ErrSessionNotFound covers a revoked, expired or unknown session row,
// while ErrBackupCodeInvalid signals that a recovery code was unknown
// or already consumed.
package repository

import "errors"

// ErrEmailExists is returned when registration collides with an
// existing, case-normalized email address. Handlers should translate
// this into an HTTP 409 response.
var ErrEmailExists = errors.New("email already exists")

// ErrSessionNotFound is returned when no active, unexpired session row
// matches a presented token hash. Handlers should translate this into
// an HTTP 401 response with a generic message.
var ErrSessionNotFound = errors.New("session not found")

// ErrBackupCodeInvalid is returned when a recovery code does not match
// any unused code on file. Codes are single-use; a second consume of
// the same code fails with this error.
var ErrBackupCodeInvalid = errors.New("invalid backup code")
