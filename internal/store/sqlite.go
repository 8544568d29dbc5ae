package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Option configures a store backend.
type Option func(*options)

type options struct {
	clock *Clock
}

// WithClock replaces the timestamp source; tests use it to pin createdAt.
func WithClock(c *Clock) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = NewClock(nil)
	}
	return o
}

// SQLiteStore implements Store on top of modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	clock *Clock
	log   *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Parent directories are created if needed.
func NewSQLiteStore(path string, log *zap.Logger, opts ...Option) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "store"))
	o := buildOptions(opts)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// pragmas go in the DSN so that every pooled connection gets them.
	// Appends read then write, so they take the write lock up front.
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db, clock: o.clock, log: log}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	log.Info("SQLite store initialized", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			nickname   TEXT NOT NULL DEFAULT '',
			fullname   TEXT NOT NULL DEFAULT '',
			image      TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			sender_id   TEXT NOT NULL REFERENCES users(id),
			receiver_id TEXT NOT NULL REFERENCES users(id),
			text        TEXT NOT NULL,
			item_id     TEXT,
			created_at  INTEGER NOT NULL,

			CHECK (sender_id <> receiver_id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_pair
			ON messages(sender_id, receiver_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_receiver
			ON messages(receiver_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.log.Info("closing SQLite store")
	return s.db.Close()
}

// UpsertUser creates or replaces a profile.
func (s *SQLiteStore) UpsertUser(ctx context.Context, p *Profile) error {
	if err := ValidateProfile(p); err != nil {
		return err
	}
	query := `
		INSERT INTO users (id, nickname, fullname, image, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			nickname = excluded.nickname,
			fullname = excluded.fullname,
			image = excluded.image,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, p.ID, p.Nickname, p.Fullname, p.Image, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// GetUser returns ErrUserNotFound if the profile doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*Profile, error) {
	if err := ValidateUserID(id); err != nil {
		return nil, err
	}
	return getUser(ctx, s.db, id)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getUser(ctx context.Context, q rowQuerier, id string) (*Profile, error) {
	var p Profile
	err := q.QueryRowContext(ctx,
		`SELECT id, nickname, fullname, image FROM users WHERE id = ?`, id,
	).Scan(&p.ID, &p.Nickname, &p.Fullname, &p.Image)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &p, nil
}

// AppendMessage validates, resolves both users and inserts the message in one
// transaction.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg NewMessage) (*Message, error) {
	if err := ValidateNewMessage(msg); err != nil {
		return nil, err
	}
	itemID := NormalizeItemID(msg.ItemID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	sender, err := getUser(ctx, tx, msg.SenderID)
	if err != nil {
		return nil, err
	}
	receiver, err := getUser(ctx, tx, msg.ReceiverID)
	if err != nil {
		return nil, err
	}

	out := &Message{
		ID:        uuid.NewString(),
		Sender:    *sender,
		Receiver:  *receiver,
		Text:      msg.Text,
		ItemID:    itemID,
		CreatedAt: s.clock.Next(),
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, text, item_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		out.ID, sender.ID, receiver.ID, out.Text,
		sql.NullString{String: itemID, Valid: itemID != ""},
		out.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	if out.Seq, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading message seq: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	s.log.Debug("appended message",
		zap.String("id", out.ID),
		zap.String("sender", sender.ID),
		zap.String("receiver", receiver.ID))
	return out, nil
}

const messageColumns = `
	m.seq, m.id, m.text, COALESCE(m.item_id, ''), m.created_at,
	s.id, s.nickname, s.fullname, s.image,
	r.id, r.nickname, r.fullname, r.image`

const messageJoins = `
	JOIN users s ON s.id = m.sender_id
	JOIN users r ON r.id = m.receiver_id`

// History returns the pair's messages ordered by (created_at, seq).
func (s *SQLiteStore) History(ctx context.Context, userA, userB, itemID string) ([]*Message, error) {
	if err := ValidateUserID(userA); err != nil {
		return nil, err
	}
	if err := ValidateUserID(userB); err != nil {
		return nil, err
	}

	query := `SELECT ` + messageColumns + ` FROM messages m ` + messageJoins + `
		WHERE ((m.sender_id = ? AND m.receiver_id = ?) OR (m.sender_id = ? AND m.receiver_id = ?))`
	args := []any{userA, userB, userB, userA}
	if item := NormalizeItemID(itemID); item != "" {
		query += ` AND m.item_id = ?`
		args = append(args, item)
	}
	query += ` ORDER BY m.created_at ASC, m.seq ASC`

	return s.queryMessages(ctx, "history", query, args...)
}

// MessagesInvolving returns every message the user sent or received,
// ordered by (created_at, seq).
func (s *SQLiteStore) MessagesInvolving(ctx context.Context, userID string) ([]*Message, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	query := `SELECT ` + messageColumns + ` FROM messages m ` + messageJoins + `
		WHERE m.sender_id = ? OR m.receiver_id = ?
		ORDER BY m.created_at ASC, m.seq ASC`
	return s.queryMessages(ctx, "messages involving user", query, userID, userID)
}

// LatestPerCounterpart keeps the newest message of every counterpart using a
// window function, newest conversation first.
func (s *SQLiteStore) LatestPerCounterpart(ctx context.Context, userID string) ([]*Message, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	query := `
		WITH ranked AS (
			SELECT msg.*, ROW_NUMBER() OVER (
				PARTITION BY CASE WHEN msg.sender_id = ? THEN msg.receiver_id ELSE msg.sender_id END
				ORDER BY msg.created_at DESC, msg.seq DESC
			) AS rn
			FROM messages msg
			WHERE msg.sender_id = ? OR msg.receiver_id = ?
		)
		SELECT ` + messageColumns + ` FROM ranked m ` + messageJoins + `
		WHERE m.rn = 1
		ORDER BY m.created_at DESC, m.seq DESC`
	return s.queryMessages(ctx, "latest per counterpart", query, userID, userID, userID)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, what, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", what, err)
	}
	defer rows.Close()

	out := make([]*Message, 0)
	for rows.Next() {
		var m Message
		var createdAt int64
		if err := rows.Scan(
			&m.Seq, &m.ID, &m.Text, &m.ItemID, &createdAt,
			&m.Sender.ID, &m.Sender.Nickname, &m.Sender.Fullname, &m.Sender.Image,
			&m.Receiver.ID, &m.Receiver.Nickname, &m.Receiver.Fullname, &m.Receiver.Image,
		); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", what, err)
		}
		m.CreatedAt = unixNano(createdAt)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", what, err)
	}
	return out, nil
}
