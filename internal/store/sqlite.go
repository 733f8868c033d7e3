package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aerokeylabs/t4chat/internal/domain"
)

// SQLiteStore implements Store on a local SQLite database. It mirrors the
// semantics of the Convex api* functions for development and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

var _ Store = (*SQLiteStore)(nil)

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			thread_id TEXT PRIMARY KEY,
			title TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL UNIQUE,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			parts TEXT NOT NULL DEFAULT '[]',
			reasoning TEXT NOT NULL DEFAULT '',
			annotations TEXT NOT NULL DEFAULT '[]',
			model TEXT,
			model_params TEXT,
			prompt_token_count INTEGER,
			token_count INTEGER,
			duration_ms INTEGER,
			tokens_per_second REAL,
			time_to_first_token_ms INTEGER,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (thread_id) REFERENCES threads(thread_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, seq)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateThread inserts a thread.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *domain.Thread) error {
	var title sql.NullString
	if thread.Title != nil {
		title = sql.NullString{String: *thread.Title, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (thread_id, title, created_at) VALUES (?, ?, ?)`,
		thread.ID, title, time.Now())
	return err
}

// CreateMessage inserts a message at the end of its thread.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	parts := msg.Parts
	if parts == nil {
		parts = []domain.MessagePart{}
	}
	partsJSON, _ := json.Marshal(parts)
	status := msg.Status
	if status == "" {
		status = domain.MessageStatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, thread_id, role, status, parts, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.Role, status, string(partsJSON), time.Now())
	return err
}

// GetThreadByID retrieves a thread by ID.
func (s *SQLiteStore) GetThreadByID(ctx context.Context, threadID string) (*domain.Thread, error) {
	var thread domain.Thread
	var title sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT thread_id, title FROM threads WHERE thread_id = ?`,
		threadID).Scan(&thread.ID, &title)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if title.Valid {
		thread.Title = &title.String
	}
	return &thread, nil
}

const messageColumns = `seq, message_id, thread_id, role, status, parts, reasoning, annotations, model, model_params`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.Message, int64, error) {
	var msg domain.Message
	var seq int64
	var parts, annotations string
	var model, params sql.NullString
	if err := row.Scan(&seq, &msg.ID, &msg.ThreadID, &msg.Role, &msg.Status, &parts, &msg.Reasoning, &annotations, &model, &params); err != nil {
		return nil, 0, err
	}
	if err := json.Unmarshal([]byte(parts), &msg.Parts); err != nil {
		return nil, 0, fmt.Errorf("decode parts of %s: %w", msg.ID, err)
	}
	if err := json.Unmarshal([]byte(annotations), &msg.Annotations); err != nil {
		return nil, 0, fmt.Errorf("decode annotations of %s: %w", msg.ID, err)
	}
	if len(msg.Annotations) == 0 {
		msg.Annotations = nil
	}
	if model.Valid {
		msg.Model = model.String
	}
	if params.Valid && params.String != "" {
		var mp domain.ModelParams
		if err := json.Unmarshal([]byte(params.String), &mp); err == nil {
			msg.ModelParams = &mp
		}
	}
	msg.CreatedAt = float64(seq)
	return &msg, seq, nil
}

// GetMessageByID retrieves a message by ID.
func (s *SQLiteStore) GetMessageByID(ctx context.Context, messageID string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, messageID)
	msg, _, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessagesUntil returns nil when the thread is missing or untilID belongs
// to another thread.
func (s *SQLiteStore) GetMessagesUntil(ctx context.Context, threadID, untilID string) ([]domain.Message, error) {
	var untilSeq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT seq FROM messages WHERE message_id = ? AND thread_id = ?`,
		untilID, threadID).Scan(&untilSeq)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE thread_id = ? AND seq <= ? ORDER BY seq ASC`,
		threadID, untilSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		msg, _, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// AppendText extends the trailing text part, or adds one.
func (s *SQLiteStore) AppendText(ctx context.Context, messageID, text string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var partsJSON string
	err = tx.QueryRowContext(ctx, `SELECT parts FROM messages WHERE message_id = ?`, messageID).Scan(&partsJSON)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var parts []domain.MessagePart
	if err := json.Unmarshal([]byte(partsJSON), &parts); err != nil {
		return false, fmt.Errorf("decode parts of %s: %w", messageID, err)
	}
	if n := len(parts); n > 0 && parts[n-1].Type == domain.PartTypeText {
		parts[n-1].Text += text
	} else {
		parts = append(parts, domain.MessagePart{Type: domain.PartTypeText, Text: text})
	}

	updated, _ := json.Marshal(parts)
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET parts = ? WHERE message_id = ?`, string(updated), messageID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// AppendReasoning extends the reasoning of an assistant message.
func (s *SQLiteStore) AppendReasoning(ctx context.Context, messageID, reasoning string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET reasoning = reasoning || ? WHERE message_id = ? AND role = ?`,
		reasoning, messageID, domain.RoleAssistant)
	return affected(res, err)
}

// AppendAnnotations adds annotations whose url is not already present.
func (s *SQLiteStore) AppendAnnotations(ctx context.Context, messageID string, annotations []domain.Annotation) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var existingJSON string
	err = tx.QueryRowContext(ctx, `SELECT annotations FROM messages WHERE message_id = ?`, messageID).Scan(&existingJSON)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var existing []domain.Annotation
	if err := json.Unmarshal([]byte(existingJSON), &existing); err != nil {
		return false, fmt.Errorf("decode annotations of %s: %w", messageID, err)
	}
	seen := make(map[string]bool, len(existing))
	for _, a := range existing {
		seen[a.URL] = true
	}
	for _, a := range annotations {
		if seen[a.URL] {
			continue
		}
		seen[a.URL] = true
		existing = append(existing, a)
	}

	updated, _ := json.Marshal(existing)
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET annotations = ? WHERE message_id = ?`, string(updated), messageID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Complete marks a message complete and stores its usage.
func (s *SQLiteStore) Complete(ctx context.Context, args domain.CompleteArgs) (bool, error) {
	var params sql.NullString
	if args.ModelParams != nil {
		data, _ := json.Marshal(args.ModelParams)
		params = sql.NullString{String: string(data), Valid: true}
	}
	u := args.Usage
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, model = ?, model_params = ?, prompt_token_count = ?, token_count = ?,
			duration_ms = ?, tokens_per_second = ?, time_to_first_token_ms = ? WHERE message_id = ?`,
		domain.MessageStatusComplete, args.Model, params, u.PromptTokenCount, u.CompletionTokenCount,
		u.DurationMs, u.TokensPerSecond, u.TimeToFirstTokenMs, args.MessageID)
	return affected(res, err)
}

// GetUsage returns the usage recorded by Complete.
func (s *SQLiteStore) GetUsage(ctx context.Context, messageID string) (*domain.UsageStats, error) {
	var u domain.UsageStats
	var prompt, tokens, duration, ttft sql.NullInt64
	var tps sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT prompt_token_count, token_count, duration_ms, tokens_per_second, time_to_first_token_ms
			FROM messages WHERE message_id = ?`, messageID).Scan(&prompt, &tokens, &duration, &tps, &ttft)
	if err == sql.ErrNoRows || (err == nil && !tokens.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.PromptTokenCount = int(prompt.Int64)
	u.CompletionTokenCount = int(tokens.Int64)
	u.DurationMs = duration.Int64
	u.TokensPerSecond = tps.Float64
	u.TimeToFirstTokenMs = ttft.Int64
	return &u, nil
}

// Cancel marks an assistant message cancelled.
func (s *SQLiteStore) Cancel(ctx context.Context, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ? WHERE message_id = ? AND role = ?`,
		domain.MessageStatusCancelled, messageID, domain.RoleAssistant)
	return affected(res, err)
}

// SetTitle sets a thread title.
func (s *SQLiteStore) SetTitle(ctx context.Context, threadID, title string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET title = ? WHERE thread_id = ?`, title, threadID)
	return affected(res, err)
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
