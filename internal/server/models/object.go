// Package models defines server-side data models persisted in the database.
package models

import "time"

// Object upload statuses.
const (
	ObjectStatusPending   = "pending"
	ObjectStatusCompleted = "completed"
)

// StoredObject describes server-side metadata for a blob held in object
// storage. The bytes themselves live behind the storage key; this row is the
// single source of truth for the object's lifecycle state.
type StoredObject struct {
	// ID is an opaque unique identifier (UUID).
	ID string
	// Key is the object-storage path of the blob. Unique and immutable once
	// assigned; encodes owner + random identifier + sanitized name.
	Key string
	// DisplayName is the user-facing file name.
	DisplayName string
	// MimeType is the declared content type.
	MimeType string
	// SizeBytes is the declared payload size.
	SizeBytes int64
	// OwnerID identifies the uploading user.
	OwnerID string

	// Expiry is the moment the object becomes eligible for soft deletion.
	// Nil means the object never expires.
	Expiry *time.Time
	// DeletedAt marks the soft-delete transition. A row with non-nil
	// DeletedAt is only ever touched again by the hard-delete path.
	DeletedAt *time.Time

	// Status tracks upload state ("pending", "completed").
	Status string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the object is past its expiry at the given moment.
func (o *StoredObject) Expired(now time.Time) bool {
	return o.Expiry != nil && o.Expiry.Before(now)
}
