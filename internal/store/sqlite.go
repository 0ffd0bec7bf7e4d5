// ABOUTME: SQLite implementation of the chat store using modernc.org/sqlite
// ABOUTME: Owns schema creation plus conversation and participation persistence

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zombiesouplab/chat/internal/entity"
)

// SQLiteStore is the SQLite-backed chat store
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			private        INTEGER NOT NULL DEFAULT 1,
			direct_message INTEGER NOT NULL DEFAULT 0,
			data           TEXT,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS participation (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id  INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			messageable_type TEXT NOT NULL,
			messageable_id   TEXT NOT NULL,
			created_at       TEXT NOT NULL,

			UNIQUE(conversation_id, messageable_type, messageable_id)
		);

		CREATE INDEX IF NOT EXISTS idx_participation_conversation
			ON participation(conversation_id);
		CREATE INDEX IF NOT EXISTS idx_participation_messageable
			ON participation(messageable_type, messageable_id);

		CREATE TABLE IF NOT EXISTS messages (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id  INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			participation_id INTEGER REFERENCES participation(id) ON DELETE SET NULL,
			body             TEXT NOT NULL,
			type             TEXT NOT NULL DEFAULT 'text',
			created_at       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id);

		CREATE TABLE IF NOT EXISTS message_notifications (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id       INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			conversation_id  INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			participation_id INTEGER NOT NULL REFERENCES participation(id) ON DELETE CASCADE,
			messageable_type TEXT NOT NULL,
			messageable_id   TEXT NOT NULL,
			is_sender        INTEGER NOT NULL DEFAULT 0,
			is_seen          INTEGER NOT NULL DEFAULT 0,
			flagged          INTEGER NOT NULL DEFAULT 0,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,
			deleted_at       TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_notifications_messageable_message
			ON message_notifications(messageable_type, messageable_id, message_id);
		CREATE INDEX IF NOT EXISTS idx_notifications_conversation_messageable
			ON message_notifications(conversation_id, messageable_type, messageable_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation creates a conversation and a participation row for each
// participant in one transaction. New conversations default to private.
func (s *SQLiteStore) CreateConversation(ctx context.Context, data map[string]any, participants []entity.Ref) (*Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	dataJSON, err := encodeData(data)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (private, direct_message, data, created_at, updated_at) VALUES (1, 0, ?, ?, ?)`,
		dataJSON, fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading conversation id: %w", err)
	}

	for _, ref := range participants {
		if err := insertParticipation(ctx, tx, id, ref, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("conversation created",
		"conversation_id", id,
		"participants", len(participants))

	return &Conversation{
		ID:        id,
		Private:   true,
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetConversation retrieves a conversation by id
func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, private, direct_message, data, created_at, updated_at FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// DeleteConversation hard-deletes an empty conversation. It fails with
// ErrConversationNotEmpty while participants remain; messages and
// notifications cascade with the conversation row.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id int64) error {
	count, err := s.ParticipantCount(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("deleting conversation %d: %w", id, ErrConversationNotEmpty)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPrivate updates the conversation's privacy flag
func (s *SQLiteStore) SetPrivate(ctx context.Context, id int64, private bool) error {
	return s.setConversationFlag(ctx, id, "private", private)
}

// SetDirect updates the conversation's direct-message flag
func (s *SQLiteStore) SetDirect(ctx context.Context, id int64, direct bool) error {
	return s.setConversationFlag(ctx, id, "direct_message", direct)
}

func (s *SQLiteStore) setConversationFlag(ctx context.Context, id int64, column string, value bool) error {
	// column is always one of the two flag names above, never caller input
	query := fmt.Sprintf(`UPDATE conversations SET %s = ?, updated_at = ? WHERE id = ?`, column)
	res, err := s.db.ExecContext(ctx, query, boolInt(value), fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("updating conversation %s: %w", column, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateConversationData replaces the conversation's opaque data blob
func (s *SQLiteStore) UpdateConversationData(ctx context.Context, id int64, data map[string]any) error {
	dataJSON, err := encodeData(data)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET data = ?, updated_at = ? WHERE id = ?`,
		dataJSON, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("updating conversation data: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddParticipants creates a participation row per ref. Fails with
// ErrParticipationExists if any ref already participates.
func (s *SQLiteStore) AddParticipants(ctx context.Context, conversationID int64, refs []entity.Ref) ([]*Participation, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, ref := range refs {
		if err := insertParticipation(ctx, tx, conversationID, ref, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing participants: %w", err)
	}

	s.logger.Debug("participants added",
		"conversation_id", conversationID,
		"count", len(refs))

	return s.participationsFor(ctx, conversationID, refs)
}

// insertParticipation inserts one membership row inside an open transaction
func insertParticipation(ctx context.Context, tx *sql.Tx, conversationID int64, ref entity.Ref, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO participation (conversation_id, messageable_type, messageable_id, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, ref.Type, ref.ID, fmtTime(now))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("adding %s to conversation %d: %w", ref, conversationID, ErrParticipationExists)
		}
		return fmt.Errorf("inserting participation for %s: %w", ref, err)
	}
	return nil
}

// RemoveParticipants deletes the matching participation rows. Messages and
// notifications are preserved for remaining participants.
func (s *SQLiteStore) RemoveParticipants(ctx context.Context, conversationID int64, refs []entity.Ref) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, ref := range refs {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM participation WHERE conversation_id = ? AND messageable_type = ? AND messageable_id = ?`,
			conversationID, ref.Type, ref.ID)
		if err != nil {
			return fmt.Errorf("removing participation for %s: %w", ref, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing removal: %w", err)
	}

	s.logger.Debug("participants removed",
		"conversation_id", conversationID,
		"count", len(refs))
	return nil
}

// GetParticipation retrieves the membership row for one entity in a conversation
func (s *SQLiteStore) GetParticipation(ctx context.Context, conversationID int64, ref entity.Ref) (*Participation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, messageable_type, messageable_id, created_at
		 FROM participation
		 WHERE conversation_id = ? AND messageable_type = ? AND messageable_id = ?`,
		conversationID, ref.Type, ref.ID)
	return scanParticipation(row)
}

// ListParticipants returns all memberships of a conversation ordered by join id
func (s *SQLiteStore) ListParticipants(ctx context.Context, conversationID int64) ([]*Participation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, messageable_type, messageable_id, created_at
		 FROM participation
		 WHERE conversation_id = ?
		 ORDER BY id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var participants []*Participation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// ParticipantCount returns the number of current participants
func (s *SQLiteStore) ParticipantCount(ctx context.Context, conversationID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM participation WHERE conversation_id = ?`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting participants: %w", err)
	}
	return count, nil
}

// participationsFor loads membership rows for the given refs
func (s *SQLiteStore) participationsFor(ctx context.Context, conversationID int64, refs []entity.Ref) ([]*Participation, error) {
	participations := make([]*Participation, 0, len(refs))
	for _, ref := range refs {
		p, err := s.GetParticipation(ctx, conversationID, ref)
		if err != nil {
			return nil, err
		}
		participations = append(participations, p)
	}
	return participations, nil
}

// scanner abstracts sql.Row and sql.Rows for the scan helpers
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	c := &Conversation{}
	var private, direct int
	var dataJSON sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&c.ID, &private, &direct, &dataJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	c.Private = private != 0
	c.DirectMessage = direct != 0
	if dataJSON.Valid && dataJSON.String != "" {
		if err := json.Unmarshal([]byte(dataJSON.String), &c.Data); err != nil {
			return nil, fmt.Errorf("decoding conversation data: %w", err)
		}
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

func scanParticipation(row scanner) (*Participation, error) {
	p := &Participation{}
	var createdAt string

	err := row.Scan(&p.ID, &p.ConversationID, &p.Messageable.Type, &p.Messageable.ID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning participation: %w", err)
	}

	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return p, nil
}

// encodeData marshals the opaque conversation blob, nil becomes SQL NULL
func encodeData(data map[string]any) (any, error) {
	if data == nil {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding conversation data: %w", err)
	}
	return string(b), nil
}

// timeLayout keeps a fixed-width fraction so stored timestamps sort
// lexicographically (ORDER BY updated_at relies on this)
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
