package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/courierhq/courier/internal/model"
)

const keyPrefix = "msg:"

// RedisStore keeps one hash per message under msg:{id}. Updates touch only
// the patched fields, which gives field-level last-writer-wins semantics.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store backed by rdb. ttl > 0 expires each record
// that long after creation; zero keeps records forever.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func messageKey(id string) string {
	return keyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context, m *model.Message) error {
	key := messageKey(m.ID)

	// The id field doubles as the existence marker.
	created, err := s.rdb.HSetNX(ctx, key, "id", m.ID).Result()
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("%w: %s", ErrDuplicateID, m.ID)
	}

	fields := map[string]any{
		"recipient":         m.Recipient,
		"body":              m.Body,
		"channel":           m.Channel,
		"fallback_channels": strings.Join(m.FallbackChannels, ","),
		"state":             string(m.State),
		"attempts":          m.Attempts,
		"max_attempts":      m.MaxAttempts,
		"last_error":        m.LastError,
		"created_at":        m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}

	if s.ttl > 0 {
		if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Message, error) {
	data, err := s.rdb.HGetAll(ctx, messageKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	m := &model.Message{
		ID:        data["id"],
		Recipient: data["recipient"],
		Body:      data["body"],
		Channel:   data["channel"],
		State:     model.State(data["state"]),
		LastError: data["last_error"],
	}

	if raw := data["fallback_channels"]; raw != "" {
		m.FallbackChannels = strings.Split(raw, ",")
	}
	if raw := data["attempts"]; raw != "" {
		if m.Attempts, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("corrupt attempts field for %s: %w", id, err)
		}
	}
	if raw := data["max_attempts"]; raw != "" {
		if m.MaxAttempts, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("corrupt max_attempts field for %s: %w", id, err)
		}
	}
	if raw := data["created_at"]; raw != "" {
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, fmt.Errorf("corrupt created_at field for %s: %w", id, err)
		}
	}
	if raw := data["sent_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt sent_at field for %s: %w", id, err)
		}
		m.SentAt = &t
	}
	if raw := data["confirmed_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt confirmed_at field for %s: %w", id, err)
		}
		m.ConfirmedAt = &t
	}

	return m, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, p Patch) error {
	fields := map[string]any{}

	if p.State != nil {
		fields["state"] = string(*p.State)
	}
	if p.Channel != nil {
		fields["channel"] = *p.Channel
	}
	if p.Attempts != nil {
		fields["attempts"] = *p.Attempts
	}
	if p.FallbackChannels != nil {
		fields["fallback_channels"] = strings.Join(*p.FallbackChannels, ",")
	}
	if p.LastError != nil {
		fields["last_error"] = *p.LastError
	}
	if p.SentAt != nil {
		fields["sent_at"] = p.SentAt.UTC().Format(time.RFC3339Nano)
	}
	if p.ConfirmedAt != nil {
		fields["confirmed_at"] = p.ConfirmedAt.UTC().Format(time.RFC3339Nano)
	}

	if len(fields) == 0 {
		return nil
	}

	exists, err := s.rdb.Exists(ctx, messageKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return s.rdb.HSet(ctx, messageKey(id), fields).Err()
}
