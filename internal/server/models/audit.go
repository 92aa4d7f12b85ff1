package models

import "time"

// Deletion reasons recorded in the audit log.
const (
	DeletionReasonExpired        = "expired"
	DeletionReasonManual         = "manual"
	DeletionReasonRetryExhausted = "retry-exhausted"
)

// Deletion audit statuses. One entry is written per lifecycle transition
// attempt.
const (
	AuditStatusSoftDeleted    = "SOFT_DELETED"
	AuditStatusHardDeleted    = "HARD_DELETED"
	AuditStatusFailedRemote   = "FAILED_REMOTE"
	AuditStatusFailedMetadata = "FAILED_METADATA"
)

// DeletionAuditEntry is an append-only record of a lifecycle transition
// attempt. Entries are never updated or deleted and survive the removal of
// the object row they describe (ObjectID is a weak reference).
type DeletionAuditEntry struct {
	ID          string
	ObjectID    string
	OwnerID     string
	Key         string
	DisplayName string

	// DeletedAt is the transition timestamp.
	DeletedAt time.Time
	// Reason is one of the DeletionReason* constants.
	Reason string
	// Status is one of the AuditStatus* constants.
	Status string
	// Error carries a failure description for FAILED_* entries.
	Error *string
}
