// Package services implements the upload-session state machine and the
// object lifecycle engine on top of the repositories and the object
// storage client.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/andrejsk/dropvault/internal/common"
	"github.com/andrejsk/dropvault/internal/logging"
	sc "github.com/andrejsk/dropvault/internal/server/config"
	"github.com/andrejsk/dropvault/internal/server/models"
	"github.com/andrejsk/dropvault/internal/server/notify"
	"github.com/andrejsk/dropvault/internal/server/repositories/repomanager"
	"github.com/andrejsk/dropvault/internal/server/storage"
)

// maxPartCount is the backend's cap on parts per multipart session.
const maxPartCount = 10000

// ObjectStore is the slice of the storage client the services depend on.
// *storage.Client satisfies it; tests inject fakes.
type ObjectStore interface {
	PresignPut(ctx context.Context, key string, expires time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
	CreateMultipart(ctx context.Context, key, mimeType string) (string, error)
	PresignPart(ctx context.Context, key, sessionID string, partNumber int32, expires time.Duration) (string, error)
	CompleteMultipart(ctx context.Context, key, sessionID string, parts []models.UploadedPart) error
	AbortMultipart(ctx context.Context, key, sessionID string) error
	DeleteBatch(ctx context.Context, keys []string) ([]string, error)
	ListStaleUploads(ctx context.Context, olderThan time.Time) ([]storage.StaleUpload, error)
}

// UploadService issues scoped, time-limited write capabilities against
// object storage and converts client-reported completions into durable
// metadata records. It is the only component that creates object rows and
// remote objects.
type UploadService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       ObjectStore
	config      *sc.Config
	logger      logging.Logger
	notifier    notify.Notifier
	now         func() time.Time
}

// NewUploadService constructs an UploadService.
func NewUploadService(db *sql.DB, rm repomanager.RepositoryManager, store ObjectStore, config *sc.Config, logger logging.Logger, notifier notify.Notifier) *UploadService {
	return &UploadService{
		db:          db,
		repomanager: rm,
		store:       store,
		config:      config,
		logger:      logger.With("module", "upload"),
		notifier:    notifier,
		now:         time.Now,
	}
}

var keyUnsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// sanitizeName strips every character outside [A-Za-z0-9._-] so the
// display name cannot smuggle path separators into the storage key.
func sanitizeName(name string) string {
	s := keyUnsafeChars.ReplaceAllString(name, "")
	if s == "" {
		return "file"
	}
	return s
}

// buildStorageKey generates a collision-resistant, traversal-safe key:
// owner namespace + fresh random identifier + sanitized name. Keys are
// immutable once assigned.
func buildStorageKey(ownerID, displayName string) string {
	return fmt.Sprintf("users/%s/%s-%s", ownerID, uuid.New(), sanitizeName(displayName))
}

// ownsKey reports whether key lies inside the owner's key namespace.
func ownsKey(ownerID, key string) bool {
	return ownerID != "" && strings.HasPrefix(key, "users/"+ownerID+"/")
}

// BeginUpload validates the declared upload, reserves a storage key and
// returns the capabilities the client needs to transfer the payload. No
// metadata row is created yet; for multipart mode the only side effect is
// the storage-side session reservation.
func (s *UploadService) BeginUpload(ctx context.Context, ownerID, displayName, mimeType string, declaredSize int64, multipart bool, partCount int) (*models.UploadPlan, error) {
	if ownerID == "" || strings.Contains(ownerID, "/") {
		return nil, fmt.Errorf("%w: invalid owner id", common.ErrorValidation)
	}
	if !s.config.MimeTypeAllowed(mimeType) {
		return nil, fmt.Errorf("%w: %q", common.ErrMimeTypeNotAllowed, mimeType)
	}
	if declaredSize < 0 {
		return nil, fmt.Errorf("%w: negative declared size", common.ErrorValidation)
	}
	if s.config.MaxUploadSizeBytes > 0 && declaredSize > s.config.MaxUploadSizeBytes {
		return nil, fmt.Errorf("%w: declared size %d exceeds limit %d", common.ErrorValidation, declaredSize, s.config.MaxUploadSizeBytes)
	}

	key := buildStorageKey(ownerID, displayName)

	if !multipart {
		url, err := s.store.PresignPut(ctx, key, 0)
		if err != nil {
			return nil, fmt.Errorf("error presigning upload: %w", err)
		}
		return &models.UploadPlan{Key: key, Mode: models.UploadModeSingle, URL: url}, nil
	}

	if partCount < 1 || partCount > maxPartCount {
		return nil, fmt.Errorf("%w: part count %d out of range [1, %d]", common.ErrorValidation, partCount, maxPartCount)
	}

	sessionID, err := s.store.CreateMultipart(ctx, key, mimeType)
	if err != nil {
		return nil, fmt.Errorf("error opening multipart session: %w", err)
	}

	parts := make([]models.PartCapability, 0, partCount)
	for n := 1; n <= partCount; n++ {
		url, err := s.store.PresignPart(ctx, key, sessionID, int32(n), 0)
		if err != nil {
			// Release the reservation so a half-planned session does not
			// occupy remote storage.
			if abortErr := s.store.AbortMultipart(ctx, key, sessionID); abortErr != nil {
				s.logger.Error(ctx, "failed to abort multipart session after presign error",
					"key", key, "session_id", sessionID, "error", abortErr.Error())
			}
			return nil, fmt.Errorf("error presigning part %d: %w", n, err)
		}
		parts = append(parts, models.PartCapability{PartNumber: int32(n), URL: url})
	}

	return &models.UploadPlan{Key: key, Mode: models.UploadModeMultipart, SessionID: sessionID, Parts: parts}, nil
}

// CompleteUpload converts a client-reported completion into a metadata row.
// The remote action always precedes the metadata action: the row is created
// only after the backend has confirmed the fully assembled object.
//
// For multipart sessions any failure between validation and successful
// assembly triggers a best-effort abort so failed uploads do not accumulate
// orphaned remote parts. An abort failure is logged and never masks the
// original error.
func (s *UploadService) CompleteUpload(ctx context.Context, ownerID, key string, multipart bool, sessionID string, parts []models.UploadedPart, meta models.UploadMetadata) (*models.StoredObject, error) {
	if !ownsKey(ownerID, key) {
		return nil, common.ErrorUnauthorized
	}
	if meta.SizeBytes < 0 {
		return nil, fmt.Errorf("%w: negative size", common.ErrorValidation)
	}

	if multipart {
		sorted, err := validateParts(parts)
		if err != nil {
			return nil, err
		}

		if err := s.assembleMultipart(ctx, key, sessionID, sorted); err != nil {
			return nil, err
		}
	}

	obj := &models.StoredObject{
		ID:          uuid.NewString(),
		Key:         key,
		DisplayName: meta.DisplayName,
		MimeType:    meta.MimeType,
		SizeBytes:   meta.SizeBytes,
		OwnerID:     ownerID,
		Expiry:      s.expiryFor(meta.TTLSeconds),
		Status:      models.ObjectStatusCompleted,
	}

	objRepo := s.repomanager.Objects(s.db)
	if err := objRepo.Create(ctx, obj); err != nil {
		return nil, fmt.Errorf("error creating object record: %w", err)
	}

	s.notifier.ObjectUploaded(ctx, obj)
	s.logger.Info(ctx, "upload completed", "object_id", obj.ID, "key", obj.Key, "multipart", multipart)

	return obj, nil
}

// assembleMultipart asks the backend to assemble the session and aborts it
// on any failure.
func (s *UploadService) assembleMultipart(ctx context.Context, key, sessionID string, parts []models.UploadedPart) error {
	if err := s.store.CompleteMultipart(ctx, key, sessionID, parts); err != nil {
		if abortErr := s.store.AbortMultipart(ctx, key, sessionID); abortErr != nil {
			s.logger.Error(ctx, "failed to abort multipart session after assembly error",
				"key", key, "session_id", sessionID, "error", abortErr.Error())
		}
		return fmt.Errorf("%w: %v", common.ErrAssemblyFailed, err)
	}
	return nil
}

// validateParts rejects empty, duplicated or out-of-range part lists and
// returns a copy sorted ascending by part number, as the backend requires
// a strictly ordered list.
func validateParts(parts []models.UploadedPart) ([]models.UploadedPart, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty part list", common.ErrInvalidPartList)
	}
	seen := make(map[int32]struct{}, len(parts))
	for _, p := range parts {
		if p.PartNumber < 1 || p.PartNumber > maxPartCount {
			return nil, fmt.Errorf("%w: part number %d out of range", common.ErrInvalidPartList, p.PartNumber)
		}
		if p.ETag == "" {
			return nil, fmt.Errorf("%w: part %d has no integrity tag", common.ErrInvalidPartList, p.PartNumber)
		}
		if _, ok := seen[p.PartNumber]; ok {
			return nil, fmt.Errorf("%w: duplicate part number %d", common.ErrInvalidPartList, p.PartNumber)
		}
		seen[p.PartNumber] = struct{}{}
	}

	sorted := make([]models.UploadedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })
	return sorted, nil
}

// expiryFor resolves the requested TTL into an absolute expiry.
// Zero selects the configured default; negative requests no expiry.
func (s *UploadService) expiryFor(ttlSeconds int64) *time.Time {
	switch {
	case ttlSeconds > 0:
		t := s.now().Add(time.Duration(ttlSeconds) * time.Second)
		return &t
	case ttlSeconds == 0 && s.config.DefaultTTL > 0:
		t := s.now().Add(s.config.DefaultTTL)
		return &t
	default:
		return nil
	}
}

// GetDownloadURL issues a presigned read capability for an object the
// caller owns. Soft-deleted objects are no longer downloadable.
func (s *UploadService) GetDownloadURL(ctx context.Context, ownerID, objectID string) (string, error) {
	objRepo := s.repomanager.Objects(s.db)

	o, err := objRepo.GetByID(ctx, objectID)
	if err != nil {
		return "", fmt.Errorf("error getting object: %w", err)
	}
	if o.OwnerID != ownerID {
		return "", common.ErrorUnauthorized
	}
	if o.DeletedAt != nil {
		return "", common.ErrObjectDeleted
	}

	url, err := s.store.PresignGet(ctx, o.Key, 0)
	if err != nil {
		return "", fmt.Errorf("error presigning download: %w", err)
	}
	return url, nil
}
