// Package notify defines the outbound, fire-and-forget notification hook
// invoked on upload completion and on deletion. The lifecycle engine does
// not depend on delivery; implementations may publish to a queue, a socket
// broadcaster, or just the log.
package notify

import (
	"context"

	"github.com/andrejsk/dropvault/internal/logging"
	"github.com/andrejsk/dropvault/internal/server/models"
)

// Notifier receives lifecycle events. Implementations must not block the
// caller beyond a trivial amount of time and must never return errors into
// the engine's control flow.
type Notifier interface {
	ObjectUploaded(ctx context.Context, o *models.StoredObject)
	ObjectDeleted(ctx context.Context, objectID, key string)
}

// LogNotifier writes events to the structured log. It is the default
// implementation when no broadcast collaborator is configured.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(l logging.Logger) *LogNotifier {
	return &LogNotifier{logger: l.With("module", "notify")}
}

func (n *LogNotifier) ObjectUploaded(ctx context.Context, o *models.StoredObject) {
	n.logger.Info(ctx, "object uploaded", "object_id", o.ID, "key", o.Key, "size_bytes", o.SizeBytes)
}

func (n *LogNotifier) ObjectDeleted(ctx context.Context, objectID, key string) {
	n.logger.Info(ctx, "object deleted", "object_id", objectID, "key", key)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) ObjectUploaded(ctx context.Context, o *models.StoredObject) {}

func (NopNotifier) ObjectDeleted(ctx context.Context, objectID, key string) {}
