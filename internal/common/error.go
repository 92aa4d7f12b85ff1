// Package common defines shared constants and sentinel errors used across
// the layers of DropVault. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Validation errors (rejected synchronously, no side effects).
	ErrorValidation       = errors.New("validation error")
	ErrMimeTypeNotAllowed = errors.New("mime type not allowed")
	ErrInvalidPartList    = errors.New("invalid part list")

	// Upload session errors.
	ErrAssemblyFailed = errors.New("multipart assembly failed")

	// Lifecycle errors.
	ErrObjectDeleted = errors.New("object is deleted")
)
