package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Compile-time check to ensure PostgresStore implements store.Store
var _ store.Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
	now    func() time.Time
}

func NewPostgresStore(db *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger.Named("postgres"), now: time.Now}
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id           UUID PRIMARY KEY,
    seq          BIGSERIAL,
    title        TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    last_updated TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id              UUID PRIMARY KEY,
    seq             BIGSERIAL,
    conversation_id UUID NOT NULL,
    role            TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content         TEXT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq
    ON messages (conversation_id, seq);

CREATE TABLE IF NOT EXISTS message_sources (
    message_id UUID NOT NULL,
    position   INT NOT NULL,
    source_id  TEXT NOT NULL,
    title      TEXT NOT NULL,
    url        TEXT NOT NULL,
    snippet    TEXT NOT NULL,
    PRIMARY KEY (message_id, position)
);

CREATE TABLE IF NOT EXISTS selection (
    singleton       BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
    conversation_id UUID
);
`

// EnsureSchema creates the tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("database error creating schema: %w", err)
	}
	s.logger.Info("Schema ensured")
	return nil
}

// --- Conversation Methods ---

const createConversation = `-- name: CreateConversation :one
INSERT INTO conversations (id, title, created_at, last_updated)
VALUES ($1, $2, $3, $3)
RETURNING id, title, created_at, last_updated;
`

const upsertSelection = `-- name: UpsertSelection :exec
INSERT INTO selection (singleton, conversation_id)
VALUES (TRUE, $1)
ON CONFLICT (singleton) DO UPDATE SET conversation_id = EXCLUDED.conversation_id;
`

func (s *PostgresStore) CreateConversation(ctx context.Context, title string) (models.Conversation, error) {
	var conv models.Conversation
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, createConversation, uuid.New(), title, s.now()).Scan(
			&conv.ID,
			&conv.Title,
			&conv.CreatedAt,
			&conv.LastUpdated,
		); err != nil {
			return fmt.Errorf("error inserting conversation: %w", err)
		}
		if _, err := tx.Exec(ctx, upsertSelection, conv.ID); err != nil {
			return fmt.Errorf("error selecting new conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logPgError("CreateConversation", err)
		return models.Conversation{}, fmt.Errorf("database error creating conversation: %w", err)
	}
	return conv, nil
}

const listConversations = `-- name: ListConversations :many
SELECT id, title, created_at, last_updated
FROM conversations
ORDER BY seq DESC;
`

func (s *PostgresStore) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.db.Query(ctx, listConversations)
	if err != nil {
		return nil, fmt.Errorf("error querying conversations: %w", err)
	}
	defer rows.Close()

	convs := []models.Conversation{}
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.LastUpdated); err != nil {
			return nil, fmt.Errorf("error scanning conversation row: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation rows: %w", err)
	}
	return convs, nil
}

const getConversation = `-- name: GetConversation :one
SELECT id, title, created_at, last_updated
FROM conversations
WHERE id = $1;
`

func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRow(ctx, getConversation, id).Scan(&c.ID, &c.Title, &c.CreatedAt, &c.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Conversation{}, store.ErrNotFound
		}
		return models.Conversation{}, fmt.Errorf("error scanning conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	const (
		deleteSources = `DELETE FROM message_sources
			WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = $1);`
		deleteMessages     = `DELETE FROM messages WHERE conversation_id = $1;`
		deleteConversation = `DELETE FROM conversations WHERE id = $1;`
		unselect           = `UPDATE selection SET conversation_id = NULL WHERE conversation_id = $1;`
	)

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for _, q := range []string{deleteSources, deleteMessages, deleteConversation, unselect} {
			if _, err := tx.Exec(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logPgError("DeleteConversation", err)
		return fmt.Errorf("database error deleting conversation: %w", err)
	}

	s.logger.Debug("Conversation deleted", zap.String("conversation_id", id.String()))
	return nil
}

// --- Selection Methods ---

func (s *PostgresStore) SetCurrentConversation(ctx context.Context, id *uuid.UUID) error {
	if _, err := s.db.Exec(ctx, upsertSelection, id); err != nil {
		return fmt.Errorf("database error setting current conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearCurrentConversation(ctx context.Context) error {
	return s.SetCurrentConversation(ctx, nil)
}

func (s *PostgresStore) CurrentConversation(ctx context.Context) (*uuid.UUID, error) {
	var id *uuid.UUID
	err := s.db.QueryRow(ctx, `SELECT conversation_id FROM selection WHERE singleton;`).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading current conversation: %w", err)
	}
	return id, nil
}

// --- Message Methods ---

const insertMessage = `-- name: InsertMessage :exec
INSERT INTO messages (id, conversation_id, role, content, created_at)
VALUES ($1, $2, $3, $4, $5);
`

// The interval keeps last_updated strictly increasing at timestamptz precision.
const touchConversation = `-- name: TouchConversation :exec
UPDATE conversations
SET last_updated = CASE WHEN $2 > last_updated THEN $2 ELSE last_updated + INTERVAL '1 microsecond' END
WHERE id = $1;
`

func (s *PostgresStore) AddMessage(ctx context.Context, conversationID uuid.UUID, msg models.Message) (models.Message, error) {
	now := s.now()
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	msg.ConversationID = conversationID

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertMessage, msg.ID, conversationID, string(msg.Role), msg.Content, msg.Timestamp); err != nil {
			return fmt.Errorf("error inserting message: %w", err)
		}
		if _, err := tx.Exec(ctx, touchConversation, conversationID, now); err != nil {
			return fmt.Errorf("error touching conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logPgError("AddMessage", err)
		return models.Message{}, fmt.Errorf("database error adding message: %w", err)
	}
	return msg, nil
}

const listMessages = `-- name: ListMessages :many
SELECT id, conversation_id, role, content, created_at
FROM messages
WHERE conversation_id = $1
ORDER BY seq ASC;
`

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	rows, err := s.db.Query(ctx, listMessages, conversationID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return msgs, nil
}

const getMessage = `-- name: GetMessage :one
SELECT id, conversation_id, role, content, created_at
FROM messages
WHERE id = $1;
`

func (s *PostgresStore) GetMessage(ctx context.Context, id uuid.UUID) (models.Message, error) {
	m, err := scanMessage(s.db.QueryRow(ctx, getMessage, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Message{}, store.ErrNotFound
		}
		return models.Message{}, fmt.Errorf("error scanning message: %w", err)
	}
	return m, nil
}

func scanMessage(row pgx.Row) (models.Message, error) {
	var m models.Message
	var role string
	err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.Timestamp)
	m.Role = models.Role(role)
	return m, err
}

// --- Source Methods ---

func (s *PostgresStore) SetSources(ctx context.Context, messageID uuid.UUID, sources []models.Source) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var role string
		if err := tx.QueryRow(ctx, `SELECT role FROM messages WHERE id = $1 FOR UPDATE;`, messageID).Scan(&role); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("error reading message role: %w", err)
		}
		if models.Role(role) != models.RoleAssistant {
			return store.ErrNotAssistant
		}

		if _, err := tx.Exec(ctx, `DELETE FROM message_sources WHERE message_id = $1;`, messageID); err != nil {
			return fmt.Errorf("error clearing sources: %w", err)
		}

		rows := make([][]any, 0, len(sources))
		for i, src := range sources {
			rows = append(rows, []any{messageID, i, src.ID, src.Title, src.URL, src.Snippet})
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"message_sources"},
			[]string{"message_id", "position", "source_id", "title", "url", "snippet"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("error copying sources: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNotAssistant) {
			return err
		}
		s.logPgError("SetSources", err)
		return fmt.Errorf("database error setting sources: %w", err)
	}
	return nil
}

const getSources = `-- name: GetSources :many
SELECT source_id, title, url, snippet
FROM message_sources
WHERE message_id = $1
ORDER BY position ASC;
`

func (s *PostgresStore) GetSources(ctx context.Context, messageID uuid.UUID) ([]models.Source, error) {
	rows, err := s.db.Query(ctx, getSources, messageID)
	if err != nil {
		return nil, fmt.Errorf("error querying sources: %w", err)
	}
	defer rows.Close()

	sources := []models.Source{}
	for rows.Next() {
		var src models.Source
		if err := rows.Scan(&src.ID, &src.Title, &src.URL, &src.Snippet); err != nil {
			return nil, fmt.Errorf("error scanning source row: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rows: %w", err)
	}
	return sources, nil
}

// logPgError logs PostgreSQL error details when err carries them.
func (s *PostgresStore) logPgError(op string, err error) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		s.logger.Error("PostgreSQL error",
			zap.String("op", op),
			zap.String("code", pgErr.Code),
			zap.String("message", pgErr.Message),
			zap.String("detail", pgErr.Detail),
		)
		return
	}
	s.logger.Error("Database operation failed", zap.String("op", op), zap.Error(err))
}
