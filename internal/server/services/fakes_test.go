package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andrejsk/dropvault/internal/common"
	"github.com/andrejsk/dropvault/internal/dbx"
	"github.com/andrejsk/dropvault/internal/logging"
	"github.com/andrejsk/dropvault/internal/server/models"
	"github.com/andrejsk/dropvault/internal/server/repositories/audit"
	"github.com/andrejsk/dropvault/internal/server/repositories/objects"
	"github.com/andrejsk/dropvault/internal/server/storage"
)

// nopLogger discards everything; tests assert on state, not log output.
type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, args ...any) {}
func (nopLogger) Info(ctx context.Context, msg string, args ...any)  {}
func (nopLogger) Warn(ctx context.Context, msg string, args ...any)  {}
func (nopLogger) Error(ctx context.Context, msg string, args ...any) {}
func (nopLogger) With(args ...any) logging.Logger                    { return nopLogger{} }

// fakeObjectsRepo is an in-memory objects.Repository with error-injection
// knobs.
type fakeObjectsRepo struct {
	mu      sync.Mutex
	rows    map[string]*models.StoredObject
	creates int

	markDeletedErr  map[string]error
	markDeletedLose map[string]bool
	deleteErr       map[string]error
}

func newFakeObjectsRepo() *fakeObjectsRepo {
	return &fakeObjectsRepo{
		rows:            make(map[string]*models.StoredObject),
		markDeletedErr:  make(map[string]error),
		markDeletedLose: make(map[string]bool),
		deleteErr:       make(map[string]error),
	}
}

func (r *fakeObjectsRepo) put(o *models.StoredObject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.rows[o.ID] = &cp
}

func (r *fakeObjectsRepo) get(id string) *models.StoredObject {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.rows[id]; ok {
		cp := *o
		return &cp
	}
	return nil
}

func (r *fakeObjectsRepo) Create(ctx context.Context, o *models.StoredObject) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[o.ID]; exists {
		return fmt.Errorf("duplicate id %s", o.ID)
	}
	cp := *o
	r.rows[o.ID] = &cp
	r.creates++
	return nil
}

func (r *fakeObjectsRepo) GetByID(ctx context.Context, id string) (*models.StoredObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *fakeObjectsRepo) SelectExpired(ctx context.Context, now time.Time, afterID string, limit int) ([]*models.StoredObject, error) {
	return r.selectWhere(afterID, limit, func(o *models.StoredObject) bool {
		return o.Expiry != nil && o.Expiry.Before(now) && o.DeletedAt == nil
	})
}

func (r *fakeObjectsRepo) SelectPurgeable(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]*models.StoredObject, error) {
	return r.selectWhere(afterID, limit, func(o *models.StoredObject) bool {
		return o.DeletedAt != nil && o.DeletedAt.Before(cutoff)
	})
}

func (r *fakeObjectsRepo) selectWhere(afterID string, limit int, match func(*models.StoredObject) bool) ([]*models.StoredObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.StoredObject
	for _, o := range r.rows {
		if o.ID > afterID && match(o) {
			cp := *o
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *fakeObjectsRepo) MarkDeleted(ctx context.Context, id string, deletedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.markDeletedErr[id]; err != nil {
		return false, err
	}
	if r.markDeletedLose[id] {
		// Simulates a concurrent scheduler instance winning the race.
		return false, nil
	}
	o, ok := r.rows[id]
	if !ok || o.DeletedAt != nil {
		return false, nil
	}
	t := deletedAt
	o.DeletedAt = &t
	return true, nil
}

func (r *fakeObjectsRepo) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.deleteErr[id]; err != nil {
		return false, err
	}
	if _, ok := r.rows[id]; !ok {
		return false, nil
	}
	delete(r.rows, id)
	return true, nil
}

// fakeAuditRepo records appended entries in order.
type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []*models.DeletionAuditEntry
}

func (r *fakeAuditRepo) Append(ctx context.Context, e *models.DeletionAuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *fakeAuditRepo) SelectByObjectID(ctx context.Context, objectID string) ([]*models.DeletionAuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.DeletionAuditEntry
	for _, e := range r.entries {
		if e.ObjectID == objectID {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (r *fakeAuditRepo) byStatus(status string) []*models.DeletionAuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.DeletionAuditEntry
	for _, e := range r.entries {
		if e.Status == status {
			result = append(result, e)
		}
	}
	return result
}

// fakeRepoManager vends the in-memory repositories regardless of the DBTX.
type fakeRepoManager struct {
	objects *fakeObjectsRepo
	audit   *fakeAuditRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{objects: newFakeObjectsRepo(), audit: &fakeAuditRepo{}}
}

func (m *fakeRepoManager) Objects(db dbx.DBTX) objects.Repository { return m.objects }
func (m *fakeRepoManager) Audit(db dbx.DBTX) audit.Repository    { return m.audit }
func (m *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return nil
}

// fakeStore implements ObjectStore with call recording and failure knobs.
type fakeStore struct {
	mu sync.Mutex

	presignPutErr error
	presignGetErr error

	createMultipartErr error
	sessionID          string

	presignPartFailAt int32

	completeErr   error
	completedWith []models.UploadedPart

	abortErr    error
	abortCalls  []string // "<key>/<sessionID>"
	abortedOnce map[string]bool

	// deleteFailuresLeft maps a key to the number of DeleteBatch calls that
	// still report it as failed; -1 means it fails forever.
	deleteFailuresLeft map[string]int
	deleteCalls        [][]string

	staleUploads    []storage.StaleUpload
	listStaleErr    error
	staleListCalled bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessionID:          "sess-1",
		abortedOnce:        make(map[string]bool),
		deleteFailuresLeft: make(map[string]int),
	}
}

func (f *fakeStore) PresignPut(ctx context.Context, key string, expires time.Duration) (string, error) {
	if f.presignPutErr != nil {
		return "", f.presignPutErr
	}
	return "https://signed.example/put/" + key, nil
}

func (f *fakeStore) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	if f.presignGetErr != nil {
		return "", f.presignGetErr
	}
	return "https://signed.example/get/" + key, nil
}

func (f *fakeStore) CreateMultipart(ctx context.Context, key, mimeType string) (string, error) {
	if f.createMultipartErr != nil {
		return "", f.createMultipartErr
	}
	return f.sessionID, nil
}

func (f *fakeStore) PresignPart(ctx context.Context, key, sessionID string, partNumber int32, expires time.Duration) (string, error) {
	if f.presignPartFailAt != 0 && partNumber == f.presignPartFailAt {
		return "", errors.New("presign part failed")
	}
	return fmt.Sprintf("https://signed.example/part/%s/%d", key, partNumber), nil
}

func (f *fakeStore) CompleteMultipart(ctx context.Context, key, sessionID string, parts []models.UploadedPart) error {
	f.mu.Lock()
	f.completedWith = append([]models.UploadedPart(nil), parts...)
	f.mu.Unlock()
	return f.completeErr
}

func (f *fakeStore) AbortMultipart(ctx context.Context, key, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abortCalls = append(f.abortCalls, key+"/"+sessionID)
	if f.abortErr != nil {
		return f.abortErr
	}
	// Aborting an already-aborted session must be safe.
	f.abortedOnce[key+"/"+sessionID] = true
	return nil
}

func (f *fakeStore) DeleteBatch(ctx context.Context, keys []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleteCalls = append(f.deleteCalls, append([]string(nil), keys...))

	var failed []string
	for _, k := range keys {
		left, ok := f.deleteFailuresLeft[k]
		if !ok {
			continue
		}
		if left == -1 {
			failed = append(failed, k)
			continue
		}
		if left > 0 {
			failed = append(failed, k)
			f.deleteFailuresLeft[k] = left - 1
		}
	}
	if len(failed) > 0 {
		return failed, fmt.Errorf("batch delete: %d of %d keys failed", len(failed), len(keys))
	}
	return nil, nil
}

func (f *fakeStore) ListStaleUploads(ctx context.Context, olderThan time.Time) ([]storage.StaleUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staleListCalled = true
	if f.listStaleErr != nil {
		return nil, f.listStaleErr
	}
	return f.staleUploads, nil
}

// fakeNotifier records delivered events.
type fakeNotifier struct {
	mu       sync.Mutex
	uploaded []string
	deleted  []string
}

func (n *fakeNotifier) ObjectUploaded(ctx context.Context, o *models.StoredObject) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.uploaded = append(n.uploaded, o.ID)
}

func (n *fakeNotifier) ObjectDeleted(ctx context.Context, objectID, key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, objectID)
}
