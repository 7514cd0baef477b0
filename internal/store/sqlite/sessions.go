// Package sqlite implements the session store on a single SQLite file
// (CGo-free driver). Schema is created on open; the unique index on the
// channel triple enforces one session per conversation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/relaygate/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                  TEXT PRIMARY KEY,
	channel_type        TEXT NOT NULL,
	channel_id          TEXT NOT NULL,
	chat_id             TEXT NOT NULL,
	priority            INTEGER NOT NULL DEFAULT 5,
	assigned_agent      TEXT NOT NULL DEFAULT '',
	directives          TEXT NOT NULL DEFAULT '[]',
	quotas              TEXT NOT NULL DEFAULT '{}',
	activation_mode     TEXT NOT NULL DEFAULT 'always',
	activation_keywords TEXT NOT NULL DEFAULT '[]',
	metadata            TEXT NOT NULL DEFAULT '{}',
	created_at          TIMESTAMP NOT NULL,
	updated_at          TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS sessions_channel_key
	ON sessions (channel_type, channel_id, chat_id);
`

// Store is the SQLite-backed session store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer: SQLite serializes writes anyway, and a second
	// connection only buys "database is locked" errors.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

const selectCols = `id, channel_type, channel_id, chat_id, priority, assigned_agent,
	directives, quotas, activation_mode, activation_keywords, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess                               session.Session
		directives, quotas, keywords, meta []byte
	)
	err := row.Scan(&sess.ID, &sess.ChannelType, &sess.ChannelID, &sess.ChatID,
		&sess.Priority, &sess.AssignedAgent,
		&directives, &quotas, &sess.ActivationMode, &keywords, &meta,
		&sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(directives, &sess.Directives); err != nil {
		return nil, fmt.Errorf("decode directives: %w", err)
	}
	if err := json.Unmarshal(quotas, &sess.Quotas); err != nil {
		return nil, fmt.Errorf("decode quotas: %w", err)
	}
	if err := json.Unmarshal(keywords, &sess.ActivationKeywords); err != nil {
		return nil, fmt.Errorf("decode activation keywords: %w", err)
	}
	if err := json.Unmarshal(meta, &sess.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	sess.Normalize()
	return &sess, nil
}

func encodeBlobs(sess *session.Session) (directives, quotas, keywords, meta []byte, err error) {
	if sess.Directives == nil {
		sess.Directives = []session.Directive{}
	}
	if sess.ActivationKeywords == nil {
		sess.ActivationKeywords = []string{}
	}
	if sess.Metadata == nil {
		sess.Metadata = map[string]string{}
	}
	if directives, err = json.Marshal(sess.Directives); err != nil {
		return
	}
	if quotas, err = json.Marshal(sess.Quotas); err != nil {
		return
	}
	if keywords, err = json.Marshal(sess.ActivationKeywords); err != nil {
		return
	}
	meta, err = json.Marshal(sess.Metadata)
	return
}

func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.Must(uuid.NewV7()).String()
		sess.CreatedAt = time.Now()
	}
	sess.Normalize()
	sess.UpdatedAt = time.Now()

	directives, quotas, keywords, meta, err := encodeBlobs(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+selectCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			priority = excluded.priority,
			assigned_agent = excluded.assigned_agent,
			directives = excluded.directives,
			quotas = excluded.quotas,
			activation_mode = excluded.activation_mode,
			activation_keywords = excluded.activation_keywords,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		sess.ID, sess.ChannelType, sess.ChannelID, sess.ChatID,
		sess.Priority, sess.AssignedAgent,
		directives, quotas, string(sess.ActivationMode), keywords, meta,
		sess.CreatedAt, sess.UpdatedAt)
	return err
}

func (s *Store) Load(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectCols+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *Store) LoadByChannel(ctx context.Context, channelType, channelID, chatID string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectCols+` FROM sessions
		 WHERE channel_type = ? AND channel_id = ? AND chat_id = ?`,
		channelType, channelID, chatID)
	return scanSession(row)
}

func (s *Store) GetOrCreateByChannel(ctx context.Context, channelType, channelID, chatID string) (*session.Session, error) {
	now := time.Now()
	fresh := &session.Session{
		ID:          uuid.Must(uuid.NewV7()).String(),
		ChannelType: channelType,
		ChannelID:   channelID,
		ChatID:      chatID,
		Priority:    session.DefaultPriority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	fresh.Normalize()
	directives, quotas, keywords, meta, err := encodeBlobs(fresh)
	if err != nil {
		return nil, err
	}
	// The unique triple index makes this a create-if-absent: a concurrent
	// first contact loses the insert and reads the winner's row.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+selectCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel_type, channel_id, chat_id) DO NOTHING`,
		fresh.ID, channelType, channelID, chatID,
		fresh.Priority, fresh.AssignedAgent,
		directives, quotas, string(fresh.ActivationMode), keywords, meta,
		now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert session: %w", err)
	}
	return s.LoadByChannel(ctx, channelType, channelID, chatID)
}

func (s *Store) List(ctx context.Context, f session.Filter) ([]*session.Session, error) {
	q := `SELECT ` + selectCols + ` FROM sessions WHERE 1=1`
	var args []any
	if f.ChannelType != "" {
		q += ` AND channel_type = ?`
		args = append(args, f.ChannelType)
	}
	if f.ChannelID != "" {
		q += ` AND channel_id = ?`
		args = append(args, f.ChannelID)
	}
	q += ` ORDER BY created_at`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateField(ctx context.Context, id, field string, value any) error {
	sess, err := s.Load(ctx, id)
	if err != nil {
		return err
	}
	if err := session.ApplyField(sess, field, value); err != nil {
		return err
	}
	return s.Save(ctx, sess)
}
