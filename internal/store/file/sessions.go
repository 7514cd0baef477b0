// Package file implements the session store as one JSON file per session,
// for standalone deployments with no database.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/relaygate/internal/session"
)

// Store keeps every session in memory and mirrors each mutation to
// <dir>/<id>.json. The triple index enforces one session per conversation.
type Store struct {
	dir string

	mu       sync.RWMutex
	byID     map[string]*session.Session
	byTriple map[string]string // "type:channel:chat" -> id
}

func tripleKey(channelType, channelID, chatID string) string {
	return strings.Join([]string{channelType, channelID, chatID}, ":")
}

// New loads existing sessions from dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	s := &Store{
		dir:      dir,
		byID:     make(map[string]*session.Session),
		byTriple: make(map[string]string),
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var sess session.Session
		if err := json.Unmarshal(data, &sess); err != nil || sess.ID == "" {
			continue
		}
		sess.Normalize()
		s.byID[sess.ID] = &sess
		s.byTriple[tripleKey(sess.ChannelType, sess.ChannelID, sess.ChatID)] = sess.ID
	}
	return s, nil
}

// persistLocked writes the session's file. Caller holds mu.
func (s *Store) persistLocked(sess *session.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, sess.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) Save(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.Must(uuid.NewV7()).String()
		sess.CreatedAt = time.Now()
	}
	sess.Normalize()
	sess.UpdatedAt = time.Now()

	cp := *sess
	s.byID[cp.ID] = &cp
	s.byTriple[tripleKey(cp.ChannelType, cp.ChannelID, cp.ChatID)] = cp.ID
	return s.persistLocked(&cp)
}

func (s *Store) Load(_ context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) LoadByChannel(_ context.Context, channelType, channelID, chatID string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byTriple[tripleKey(channelType, channelID, chatID)]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *Store) GetOrCreateByChannel(_ context.Context, channelType, channelID, chatID string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tripleKey(channelType, channelID, chatID)
	if id, ok := s.byTriple[key]; ok {
		cp := *s.byID[id]
		return &cp, nil
	}

	now := time.Now()
	sess := &session.Session{
		ID:          uuid.Must(uuid.NewV7()).String(),
		ChannelType: channelType,
		ChannelID:   channelID,
		ChatID:      chatID,
		Priority:    session.DefaultPriority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	sess.Normalize()
	s.byID[sess.ID] = sess
	s.byTriple[key] = sess.ID
	if err := s.persistLocked(sess); err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) List(_ context.Context, f session.Filter) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*session.Session, 0, len(s.byID))
	for _, sess := range s.byID {
		if f.ChannelType != "" && sess.ChannelType != f.ChannelType {
			continue
		}
		if f.ChannelID != "" && sess.ChannelID != f.ChannelID {
			continue
		}
		cp := *sess
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[id]
	if !ok {
		return session.ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byTriple, tripleKey(sess.ChannelType, sess.ChannelID, sess.ChatID))
	if err := os.Remove(filepath.Join(s.dir, id+".json")); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) UpdateField(_ context.Context, id, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[id]
	if !ok {
		return session.ErrNotFound
	}
	if err := session.ApplyField(sess, field, value); err != nil {
		return err
	}
	sess.UpdatedAt = time.Now()
	return s.persistLocked(sess)
}
