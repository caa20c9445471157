package archive

import (
	"context"
	"database/sql"
	"strings"

	"github.com/courierhq/courier/internal/model"
)

type PostgresArchive struct {
	db *sql.DB
}

var _ Archiver = (*PostgresArchive)(nil)

func NewPostgresArchive(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

// Migrate creates the archive table when it does not exist yet.
func (a *PostgresArchive) Migrate(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS message_archive (
			id                TEXT PRIMARY KEY,
			recipient         TEXT NOT NULL,
			body              TEXT NOT NULL,
			channel           TEXT NOT NULL,
			fallback_channels TEXT NOT NULL DEFAULT '',
			state             TEXT NOT NULL,
			attempts          INT  NOT NULL,
			max_attempts      INT  NOT NULL,
			last_error        TEXT,
			created_at        TIMESTAMPTZ NOT NULL,
			sent_at           TIMESTAMPTZ,
			confirmed_at      TIMESTAMPTZ,
			archived_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

// Archive is idempotent: re-archiving an already archived id is a no-op,
// so retried hooks cannot duplicate rows.
func (a *PostgresArchive) Archive(ctx context.Context, m *model.Message) error {
	var lastErr sql.NullString
	if m.LastError != "" {
		lastErr = sql.NullString{String: m.LastError, Valid: true}
	}
	var sentAt, confirmedAt sql.NullTime
	if m.SentAt != nil {
		sentAt = sql.NullTime{Time: *m.SentAt, Valid: true}
	}
	if m.ConfirmedAt != nil {
		confirmedAt = sql.NullTime{Time: *m.ConfirmedAt, Valid: true}
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO message_archive (
			id, recipient, body, channel, fallback_channels,
			state, attempts, max_attempts, last_error,
			created_at, sent_at, confirmed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`,
		m.ID,
		m.Recipient,
		m.Body,
		m.Channel,
		strings.Join(m.FallbackChannels, ","),
		string(m.State),
		m.Attempts,
		m.MaxAttempts,
		lastErr,
		m.CreatedAt.UTC(),
		sentAt,
		confirmedAt,
	)
	return err
}

func (a *PostgresArchive) ListRecent(ctx context.Context, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, recipient, body, channel, fallback_channels,
		       state, attempts, max_attempts, last_error,
		       created_at, sent_at, confirmed_at
		FROM message_archive
		ORDER BY archived_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		var state, fallbacks string
		var lastErr sql.NullString
		var sentAt, confirmedAt sql.NullTime

		if err := rows.Scan(
			&m.ID,
			&m.Recipient,
			&m.Body,
			&m.Channel,
			&fallbacks,
			&state,
			&m.Attempts,
			&m.MaxAttempts,
			&lastErr,
			&m.CreatedAt,
			&sentAt,
			&confirmedAt,
		); err != nil {
			return nil, err
		}

		m.State = model.State(state)
		if fallbacks != "" {
			m.FallbackChannels = strings.Split(fallbacks, ",")
		}
		if lastErr.Valid {
			m.LastError = lastErr.String
		}
		if sentAt.Valid {
			t := sentAt.Time
			m.SentAt = &t
		}
		if confirmedAt.Valid {
			t := confirmedAt.Time
			m.ConfirmedAt = &t
		}

		out = append(out, m)
	}
	return out, rows.Err()
}
