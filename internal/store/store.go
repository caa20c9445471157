package store

import (
	"context"
	"errors"
	"time"

	"github.com/courierhq/courier/internal/model"
)

var (
	ErrDuplicateID = errors.New("message id already exists")
	ErrNotFound    = errors.New("message not found")
)

// Patch is a field-level mutation. Only non-nil fields are written, so two
// concurrent updates to disjoint fields never clobber each other.
type Patch struct {
	State            *model.State
	Channel          *string
	Attempts         *int
	FallbackChannels *[]string
	LastError        *string
	SentAt           *time.Time
	ConfirmedAt      *time.Time
}

// Store owns the persisted message records. It does not enforce transition
// legality; that is the transition engine's job.
type Store interface {
	Create(ctx context.Context, m *model.Message) error
	Get(ctx context.Context, id string) (*model.Message, error)
	Update(ctx context.Context, id string, p Patch) error
}
