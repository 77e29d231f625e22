package httpadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/ports"
)

// ConversationFactory builds an unopened conversation for one operator session.
type ConversationFactory func(session domain.Session) ports.Conversation

type SessionOptions struct {
	IdleTTL     time.Duration
	MaxSessions int
	// Remover deletes files staged for a session once it ends. May be nil.
	Remover interface{ Remove(path string) error }
	// OnChange receives the number of live sessions after every change.
	OnChange func(active int)
	Logger   *slog.Logger
	Now      func() time.Time
}

type sessionEntry struct {
	session  domain.Session
	conv     ports.Conversation
	lastSeen time.Time
	staged   []string
}

// Sessions owns the conversations served over HTTP and evicts idle ones.
type Sessions struct {
	factory ConversationFactory
	opts    SessionOptions

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

func NewSessions(factory ConversationFactory, opts SessionOptions) *Sessions {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sessions{
		factory: factory,
		opts:    opts,
		entries: make(map[string]*sessionEntry),
	}
}

var errTooManySessions = errors.New("session limit reached")

// Create opens a new conversation for user and returns its session id.
func (s *Sessions) Create(user domain.User) (string, ports.Conversation, error) {
	session := domain.Session{ID: uuid.NewString(), User: user}
	conv := s.factory(session)

	s.mu.Lock()
	if s.opts.MaxSessions > 0 && len(s.entries) >= s.opts.MaxSessions {
		s.mu.Unlock()
		return "", nil, domain.WrapError(domain.ErrTemporary, "create session", errTooManySessions)
	}
	s.entries[session.ID] = &sessionEntry{session: session, conv: conv, lastSeen: s.opts.Now()}
	active := len(s.entries)
	s.mu.Unlock()

	conv.Open()
	s.changed(active)
	s.opts.Logger.Info("session_created", "session_id", session.ID, "username", user.Username)
	return session.ID, conv, nil
}

// Get returns the conversation and marks the session as used.
func (s *Sessions) Get(id string) (ports.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "get session", fmt.Errorf("id=%s", id))
	}
	entry.lastSeen = s.opts.Now()
	return entry.conv, nil
}

// Stage remembers a file written for the session so Close can delete it. It reports
// false when the session is already gone; the caller then owns the file.
func (s *Sessions) Stage(id, path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return false
	}
	entry.staged = append(entry.staged, path)
	return true
}

func (s *Sessions) Close(id string) error {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	active := len(s.entries)
	s.mu.Unlock()

	if !ok {
		return domain.WrapError(domain.ErrSessionNotFound, "close session", fmt.Errorf("id=%s", id))
	}
	s.release(entry, "closed")
	s.changed(active)
	return nil
}

// EvictIdle closes sessions unused for longer than the idle TTL.
func (s *Sessions) EvictIdle() int {
	cutoff := s.opts.Now().Add(-s.opts.IdleTTL)

	s.mu.Lock()
	var expired []*sessionEntry
	for id, entry := range s.entries {
		if entry.lastSeen.Before(cutoff) {
			expired = append(expired, entry)
			delete(s.entries, id)
		}
	}
	active := len(s.entries)
	s.mu.Unlock()

	for _, entry := range expired {
		s.release(entry, "idle")
	}
	if len(expired) > 0 {
		s.changed(active)
	}
	return len(expired)
}

// Run evicts idle sessions every interval until ctx ends, then closes the rest.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.CloseAll()
			return
		case <-ticker.C:
			if n := s.EvictIdle(); n > 0 {
				s.opts.Logger.Info("sessions_evicted", "count", n)
			}
		}
	}
}

func (s *Sessions) CloseAll() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*sessionEntry)
	s.mu.Unlock()

	for _, entry := range entries {
		s.release(entry, "shutdown")
	}
	s.changed(0)
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Sessions) release(entry *sessionEntry, reason string) {
	entry.conv.Close()
	if s.opts.Remover != nil {
		for _, path := range entry.staged {
			if err := s.opts.Remover.Remove(path); err != nil {
				s.opts.Logger.Warn("staged_upload_remove_failed", "session_id", entry.session.ID, "error", err)
			}
		}
	}
	s.opts.Logger.Info("session_closed", "session_id", entry.session.ID, "reason", reason)
}

func (s *Sessions) changed(active int) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(active)
	}
}
