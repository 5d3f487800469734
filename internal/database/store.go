package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrFunnelNotFound is returned when a funnel keyword has no stored definition.
var ErrFunnelNotFound = errors.New("funnel not found")

// Store defines the interface for database operations. Methods accept
// context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// AppendMessage appends a message to its conversation's history,
	// assigning the next sequence id. The assigned Seq and CreatedAt are
	// written back into the message.
	AppendMessage(ctx context.Context, message *Message) error

	// History retrieves the full ordered message history for one conversation.
	History(ctx context.Context, conversationID string) ([]Message, error)

	// Summaries retrieves the last message of every conversation, sorted by
	// last activity descending.
	Summaries(ctx context.Context) ([]ChatSummary, error)

	// Funnels retrieves all funnel definitions keyed by keyword, each with
	// its steps in order.
	Funnels(ctx context.Context) (map[string][]FunnelStep, error)

	// SaveFunnel replaces the step list stored for a keyword in a single
	// transaction. The keyword must already be normalized.
	SaveFunnel(ctx context.Context, keyword string, steps []FunnelStep) error

	// DeleteFunnel removes a funnel definition. Returns ErrFunnelNotFound
	// if no definition exists for the keyword.
	DeleteFunnel(ctx context.Context, keyword string) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AppendMessage appends a message to its conversation's history. The
// sequence id is computed and the row inserted inside one transaction; the
// single-connection pool serializes racing appends so ids within a
// conversation are a gapless 1..N run in append order.
func (s *sqlxStore) AppendMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot append nil message")
	}
	if message.ConversationID == "" {
		return fmt.Errorf("message must have a non-empty conversation_id")
	}
	if message.Kind == "" {
		message.Kind = KindText
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for appending message",
			"conversation_id", message.ConversationID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	var lastSeq int64
	if err := tx.GetContext(ctx, &lastSeq,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?`,
		message.ConversationID); err != nil {
		return fmt.Errorf("failed to read last sequence id for %s: %w", message.ConversationID, err)
	}
	message.Seq = lastSeq + 1

	query := `
        INSERT INTO messages (conversation_id, seq, body, kind, outbound, created_at)
        VALUES (:conversation_id, :seq, :body, :kind, :outbound, :created_at);
    `
	result, err := tx.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error appending message",
			"conversation_id", message.ConversationID, "seq", message.Seq, "error", err)
		return fmt.Errorf("failed to append message (conversation %s): %w", message.ConversationID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		//nolint:gosec // integer overflow conversion is acceptable here
		message.ID = uint(id)
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after appending message",
			"conversation_id", message.ConversationID, "error", err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction",
			"conversation_id", message.ConversationID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Message appended",
		"conversation_id", message.ConversationID, "seq", message.Seq, "kind", message.Kind)
	return nil
}

// History retrieves the full message history for one conversation in
// sequence order.
func (s *sqlxStore) History(ctx context.Context, conversationID string) ([]Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation_id cannot be empty")
	}

	messages := []Message{}
	query := `
        SELECT id, conversation_id, seq, body, kind, outbound, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY seq ASC;
    `
	if err := s.db.SelectContext(ctx, &messages, query, conversationID); err != nil {
		s.logger.ErrorContext(ctx, "Error retrieving history",
			"conversation_id", conversationID, "error", err)
		return nil, fmt.Errorf("failed to retrieve history for %s: %w", conversationID, err)
	}

	return messages, nil
}

// Summaries retrieves the last message of every conversation, most recent
// activity first.
func (s *sqlxStore) Summaries(ctx context.Context) ([]ChatSummary, error) {
	summaries := []ChatSummary{}
	query := `
        SELECT m.conversation_id, m.body, m.kind, m.outbound, m.created_at
        FROM messages m
        JOIN (
            SELECT conversation_id, MAX(seq) AS last_seq
            FROM messages
            GROUP BY conversation_id
        ) last ON last.conversation_id = m.conversation_id AND last.last_seq = m.seq
        ORDER BY m.created_at DESC, m.conversation_id ASC;
    `
	if err := s.db.SelectContext(ctx, &summaries, query); err != nil {
		s.logger.ErrorContext(ctx, "Error retrieving chat summaries", "error", err)
		return nil, fmt.Errorf("failed to retrieve chat summaries: %w", err)
	}

	return summaries, nil
}

// Funnels retrieves all funnel definitions with steps in stored order.
func (s *sqlxStore) Funnels(ctx context.Context) (map[string][]FunnelStep, error) {
	var rows []struct {
		Keyword string `db:"keyword"`
		FunnelStep
	}
	query := `
        SELECT f.keyword, s.delay_seconds, s.template
        FROM funnels f
        JOIN funnel_steps s ON s.keyword = f.keyword
        ORDER BY f.keyword ASC, s.position ASC;
    `
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		s.logger.ErrorContext(ctx, "Error retrieving funnels", "error", err)
		return nil, fmt.Errorf("failed to retrieve funnels: %w", err)
	}

	funnels := make(map[string][]FunnelStep)
	for _, row := range rows {
		funnels[row.Keyword] = append(funnels[row.Keyword], row.FunnelStep)
	}
	return funnels, nil
}

// SaveFunnel replaces the stored step list for a keyword. The delete and
// reinsert happen in one transaction so a crash mid-write never leaves a
// partially updated definition on disk.
func (s *sqlxStore) SaveFunnel(ctx context.Context, keyword string, steps []FunnelStep) error {
	if keyword == "" {
		return fmt.Errorf("keyword cannot be empty")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `DELETE FROM funnel_steps WHERE keyword = ?`, keyword); err != nil {
		return fmt.Errorf("failed to clear steps for funnel %q: %w", keyword, err)
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO funnels (keyword, created_at, updated_at) VALUES (?, ?, ?)
        ON CONFLICT (keyword) DO UPDATE SET updated_at = excluded.updated_at;
    `, keyword, now, now); err != nil {
		return fmt.Errorf("failed to upsert funnel %q: %w", keyword, err)
	}
	for i, step := range steps {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO funnel_steps (keyword, position, delay_seconds, template)
            VALUES (?, ?, ?, ?);
        `, keyword, i, step.DelaySeconds, step.Template); err != nil {
			return fmt.Errorf("failed to insert step %d for funnel %q: %w", i, keyword, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Funnel saved", "keyword", keyword, "steps", len(steps))
	return nil
}

// DeleteFunnel removes a funnel and its steps. Returns ErrFunnelNotFound if
// the keyword has no stored definition.
func (s *sqlxStore) DeleteFunnel(ctx context.Context, keyword string) error {
	if keyword == "" {
		return fmt.Errorf("keyword cannot be empty")
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM funnels WHERE keyword = ?`, keyword)
	if err != nil {
		return fmt.Errorf("failed to delete funnel %q: %w", keyword, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deletion result for funnel %q: %w", keyword, err)
	}
	if affected == 0 {
		return fmt.Errorf("funnel %q: %w", keyword, ErrFunnelNotFound)
	}

	s.logger.DebugContext(ctx, "Funnel deleted", "keyword", keyword)
	return nil
}
