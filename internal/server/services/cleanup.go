package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/andrejsk/dropvault/internal/common"
	"github.com/andrejsk/dropvault/internal/logging"
	sc "github.com/andrejsk/dropvault/internal/server/config"
	"github.com/andrejsk/dropvault/internal/server/models"
	"github.com/andrejsk/dropvault/internal/server/notify"
	"github.com/andrejsk/dropvault/internal/server/repositories/repomanager"
)

// CleanupResult aggregates the outcome of one scheduler invocation.
// Per-item failures are not surfaced here; the audit log carries them.
type CleanupResult struct {
	SoftDeleted         int
	HardDeleted         int
	StaleUploadsAborted int
}

// CleanupService drives every object through
// active → soft-deleted → purged. It exclusively owns transitions of
// deleted_at and removal of object rows.
//
// The service holds no in-process locks: all mutual exclusion is expressed
// through conditional database writes, so overlapping invocations converge
// instead of double-processing.
type CleanupService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       ObjectStore
	config      *sc.Config
	logger      logging.Logger
	notifier    notify.Notifier
	now         func() time.Time
}

// NewCleanupService constructs a CleanupService.
func NewCleanupService(db *sql.DB, rm repomanager.RepositoryManager, store ObjectStore, config *sc.Config, logger logging.Logger, notifier notify.Notifier) *CleanupService {
	return &CleanupService{
		db:          db,
		repomanager: rm,
		store:       store,
		config:      config,
		logger:      logger.With("module", "cleanup"),
		notifier:    notifier,
		now:         time.Now,
	}
}

// RunCleanup executes one full scheduler invocation: sweep stale multipart
// sessions, drain the soft-delete stage, drain the hard-delete stage.
// It never fails because of a per-item error; the returned error is only
// ever the context's.
func (s *CleanupService) RunCleanup(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult

	res.StaleUploadsAborted = s.sweepStaleUploads(ctx)
	res.SoftDeleted = s.softDeleteExpired(ctx)
	res.HardDeleted = s.hardDeleteRetained(ctx)

	s.logger.Info(ctx, "cleanup run finished",
		"soft_deleted", res.SoftDeleted,
		"hard_deleted", res.HardDeleted,
		"stale_uploads_aborted", res.StaleUploadsAborted)

	return res, ctx.Err()
}

// RequestDeletion soft-deletes an object on the owner's request (reason
// "manual"). The object is purged later by the hard-delete stage, after the
// retention window. Requesting deletion of an already soft-deleted object
// is a no-op.
func (s *CleanupService) RequestDeletion(ctx context.Context, ownerID, objectID string) error {
	objRepo := s.repomanager.Objects(s.db)

	o, err := objRepo.GetByID(ctx, objectID)
	if err != nil {
		return fmt.Errorf("error getting object: %w", err)
	}
	if o.OwnerID != ownerID {
		return common.ErrorUnauthorized
	}
	if o.DeletedAt != nil {
		return nil
	}

	now := s.now()
	won, err := objRepo.MarkDeleted(ctx, o.ID, now)
	if err != nil {
		return fmt.Errorf("error marking object deleted: %w", err)
	}
	if !won {
		// A concurrent run transitioned the object first; nothing to record.
		return nil
	}

	s.appendAudit(ctx, o, now, models.DeletionReasonManual, models.AuditStatusSoftDeleted, nil)
	return nil
}

// softDeleteExpired is the Stage 1 drain: fetch bounded batches of expired,
// not-yet-deleted objects in stable id order and transition each with a
// conditional update. Losing the conditional race means another instance
// already handled the object; no audit entry is written for that no-op.
func (s *CleanupService) softDeleteExpired(ctx context.Context) int {
	objRepo := s.repomanager.Objects(s.db)

	count := 0
	afterID := uuid.Nil.String()
	for {
		if ctx.Err() != nil {
			return count
		}

		now := s.now()
		batch, err := objRepo.SelectExpired(ctx, now, afterID, s.config.CleanupBatchSize)
		if err != nil {
			s.logger.Error(ctx, "failed to fetch expired batch", "error", err.Error())
			return count
		}
		if len(batch) == 0 {
			return count
		}

		for _, o := range batch {
			afterID = o.ID

			won, err := objRepo.MarkDeleted(ctx, o.ID, now)
			if err != nil {
				s.logger.Error(ctx, "failed to soft-delete object", "object_id", o.ID, "error", err.Error())
				continue
			}
			if !won {
				continue
			}

			count++
			s.appendAudit(ctx, o, now, models.DeletionReasonExpired, models.AuditStatusSoftDeleted, nil)
		}
	}
}

// hardDeleteRetained is the Stage 2 drain: fetch bounded batches of
// soft-deleted objects past the retention window, batch-delete their remote
// keys (retrying only the keys the backend reports as failed), then remove
// the metadata rows of the confirmed keys. Keys still failing after the
// retry ceiling stay soft-deleted for the next invocation.
func (s *CleanupService) hardDeleteRetained(ctx context.Context) int {
	objRepo := s.repomanager.Objects(s.db)

	count := 0
	cutoff := s.now().Add(-s.config.RetentionWindow)
	afterID := uuid.Nil.String()
	for {
		if ctx.Err() != nil {
			return count
		}

		batch, err := objRepo.SelectPurgeable(ctx, cutoff, afterID, s.config.CleanupBatchSize)
		if err != nil {
			s.logger.Error(ctx, "failed to fetch purgeable batch", "error", err.Error())
			return count
		}
		if len(batch) == 0 {
			return count
		}
		afterID = batch[len(batch)-1].ID

		keys := make([]string, 0, len(batch))
		for _, o := range batch {
			keys = append(keys, o.Key)
		}

		stillFailing, exhaustErr := s.deleteRemoteWithRetry(ctx, keys)
		failedKeys := make(map[string]struct{}, len(stillFailing))
		for _, k := range stillFailing {
			failedKeys[k] = struct{}{}
		}

		for _, o := range batch {
			now := s.now()

			if _, failing := failedKeys[o.Key]; failing {
				// Row stays untouched; the next run retries.
				msg := "remote deletion retries exhausted"
				if exhaustErr != nil {
					msg = exhaustErr.Error()
				}
				s.appendAudit(ctx, o, now, models.DeletionReasonRetryExhausted, models.AuditStatusFailedRemote, &msg)
				continue
			}

			removed, err := objRepo.Delete(ctx, o.ID)
			if err != nil || !removed {
				// The remote object is gone; a missing or stubborn row is
				// recorded but remote deletion is never re-attempted.
				msg := "object row already removed"
				if err != nil {
					msg = err.Error()
				}
				s.logger.Warn(ctx, "metadata delete failed after remote deletion",
					"object_id", o.ID, "key", o.Key, "detail", msg)
				s.appendAudit(ctx, o, now, models.DeletionReasonExpired, models.AuditStatusFailedMetadata, &msg)
				continue
			}

			count++
			s.appendAudit(ctx, o, now, models.DeletionReasonExpired, models.AuditStatusHardDeleted, nil)
			s.notifier.ObjectDeleted(ctx, o.ID, o.Key)
		}
	}
}

// deleteRemoteWithRetry batch-deletes keys, retrying only the keys the
// backend reported as failed, with a fixed delay up to the configured
// ceiling. It returns the keys still failing after exhaustion and the last
// error observed.
func (s *CleanupService) deleteRemoteWithRetry(ctx context.Context, keys []string) ([]string, error) {
	delay := s.config.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	remaining := keys
	backoff := retry.WithMaxRetries(uint64(s.config.RetryMaxAttempts), retry.NewConstant(delay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		failed, derr := s.store.DeleteBatch(ctx, remaining)
		if derr == nil {
			remaining = nil
			return nil
		}
		if len(failed) > 0 {
			remaining = failed
		}
		return retry.RetryableError(derr)
	})

	if len(remaining) == 0 {
		return nil, nil
	}
	return remaining, err
}

// sweepStaleUploads aborts unfinished multipart sessions older than the
// configured age, so abandoned sessions do not occupy billable remote
// storage forever.
func (s *CleanupService) sweepStaleUploads(ctx context.Context) int {
	if s.config.StaleUploadAge <= 0 {
		return 0
	}

	stale, err := s.store.ListStaleUploads(ctx, s.now().Add(-s.config.StaleUploadAge))
	if err != nil {
		s.logger.Error(ctx, "failed to list stale multipart sessions", "error", err.Error())
		return 0
	}

	count := 0
	for _, u := range stale {
		if err := s.store.AbortMultipart(ctx, u.Key, u.SessionID); err != nil {
			s.logger.Error(ctx, "failed to abort stale multipart session",
				"key", u.Key, "session_id", u.SessionID, "error", err.Error())
			continue
		}
		count++
	}
	return count
}

// appendAudit writes one audit entry for a lifecycle transition attempt.
// An audit write failure is logged but never interrupts a drain.
func (s *CleanupService) appendAudit(ctx context.Context, o *models.StoredObject, at time.Time, reason, status string, errText *string) {
	auditRepo := s.repomanager.Audit(s.db)

	e := &models.DeletionAuditEntry{
		ID:          uuid.NewString(),
		ObjectID:    o.ID,
		OwnerID:     o.OwnerID,
		Key:         o.Key,
		DisplayName: o.DisplayName,
		DeletedAt:   at,
		Reason:      reason,
		Status:      status,
		Error:       errText,
	}
	if err := auditRepo.Append(ctx, e); err != nil {
		s.logger.Error(ctx, "failed to append audit entry",
			"object_id", o.ID, "status", status, "error", err.Error())
	}
}
