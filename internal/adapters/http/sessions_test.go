package httpadapter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/ports"
)

type convFake struct {
	ports.Conversation
	mu     sync.Mutex
	opened int
	closed int
}

func (c *convFake) Open() {
	c.mu.Lock()
	c.opened++
	c.mu.Unlock()
}

func (c *convFake) Close() {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
}

type removerFake struct{ removed []string }

func (r *removerFake) Remove(path string) error {
	r.removed = append(r.removed, path)
	return nil
}

func TestSessionsEvictIdle(t *testing.T) {
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	remover := &removerFake{}
	var active []int
	convs := map[string]*convFake{}
	sessions := NewSessions(func(session domain.Session) ports.Conversation {
		c := &convFake{}
		convs[session.ID] = c
		return c
	}, SessionOptions{
		IdleTTL:  10 * time.Minute,
		Remover:  remover,
		OnChange: func(n int) { active = append(active, n) },
		Now:      func() time.Time { return now },
	})

	idleID, _, _ := sessions.Create(domain.User{Username: "a"})
	if !sessions.Stage(idleID, "/staged/a.pdf") {
		t.Fatalf("Stage() = false for a live session")
	}
	if sessions.Stage("missing", "/staged/b.pdf") {
		t.Fatalf("Stage() = true for an unknown session")
	}
	now = now.Add(6 * time.Minute)
	busyID, _, _ := sessions.Create(domain.User{Username: "b"})

	now = now.Add(6 * time.Minute)
	if _, err := sessions.Get(busyID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if n := sessions.EvictIdle(); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if _, err := sessions.Get(idleID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected idle session gone, got %v", err)
	}
	if convs[idleID].opened != 1 || convs[idleID].closed != 1 {
		t.Fatalf("expected evicted conversation opened and closed once: %+v", convs[idleID])
	}
	if len(remover.removed) != 1 || remover.removed[0] != "/staged/a.pdf" {
		t.Fatalf("expected staged file removed, got %v", remover.removed)
	}
	if got := active[len(active)-1]; got != 1 {
		t.Fatalf("expected one active session reported, got %d", got)
	}
}

func TestSessionsLimitAndRunShutdown(t *testing.T) {
	sessions := NewSessions(func(domain.Session) ports.Conversation { return &convFake{} }, SessionOptions{MaxSessions: 1})
	if _, _, err := sessions.Create(domain.User{}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, _, err := sessions.Create(domain.User{}); !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error at the limit, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sessions.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop")
	}
	if sessions.Len() != 0 {
		t.Fatalf("expected all sessions closed on shutdown")
	}
	if err := sessions.Close("missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
