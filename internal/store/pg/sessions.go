// Package pg implements the session store on Postgres for multi-instance
// deployments. Schema is managed by golang-migrate (see migrations/).
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/relaygate/internal/session"
)

// Store is the Postgres-backed session store.
type Store struct {
	db *sql.DB
}

// Open connects using the pgx stdlib driver and verifies connectivity.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			priority = EXCLUDED.priority,
			assigned_agent = EXCLUDED.assigned_agent,
			directives = EXCLUDED.directives,
			quotas = EXCLUDED.quotas,
			activation_mode = EXCLUDED.activation_mode,
			activation_keywords = EXCLUDED.activation_keywords,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`,
		sess.ID, sess.ChannelType, sess.ChannelID, sess.ChatID,
		sess.Priority, sess.AssignedAgent,
		directives, quotas, string(sess.ActivationMode), keywords, meta,
		sess.CreatedAt, sess.UpdatedAt)
	return err
}

func (s *Store) Load(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectCols+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *Store) LoadByChannel(ctx context.Context, channelType, channelID, chatID string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectCols+` FROM sessions
		 WHERE channel_type = $1 AND channel_id = $2 AND chat_id = $3`,
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
	// Unique index on the triple: concurrent first contacts converge on a
	// single row.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+selectCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
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
	q := `SELECT ` + selectCols + ` FROM sessions WHERE TRUE`
	var args []any
	if f.ChannelType != "" {
		args = append(args, f.ChannelType)
		q += fmt.Sprintf(` AND channel_type = $%d`, len(args))
	}
	if f.ChannelID != "" {
		args = append(args, f.ChannelID)
		q += fmt.Sprintf(` AND channel_id = $%d`, len(args))
	}
	q += ` ORDER BY created_at`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
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
