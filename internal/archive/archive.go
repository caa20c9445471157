package archive

import (
	"context"

	"github.com/courierhq/courier/internal/model"
)

// Archiver persists terminal messages to durable storage for audit and
// reporting. The hot path keeps running if archiving fails; callers log
// and move on.
type Archiver interface {
	Archive(ctx context.Context, m *model.Message) error
	ListRecent(ctx context.Context, limit, offset int) ([]model.Message, error)
}
