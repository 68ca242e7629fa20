package chat_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/docvisionai/backend/internal/model/chat"
	chatservice "github.com/docvisionai/backend/internal/service/chat"
	"github.com/docvisionai/backend/internal/store"
	"github.com/docvisionai/backend/internal/store/memory"
)

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newService() (*chatservice.Service, *memory.Store) {
	clock := &stepClock{t: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	backend := memory.New(memory.WithClock(clock.Now))
	return chatservice.NewService(backend, backend, chatservice.WithClock(clock.Now)), backend
}

func TestNewSessionIDIsTimeDerived(t *testing.T) {
	got := chatservice.NewSessionID(time.Date(2024, 3, 1, 8, 5, 9, 123456789, time.UTC))
	if got != "session_20240301080509123456" {
		t.Fatalf("unexpected session id %q", got)
	}
}

func TestCurrentSessionCreatesThenReuses(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	first, err := svc.CurrentSession(ctx, "u1", "p1")
	if err != nil {
		t.Fatalf("CurrentSession err: %v", err)
	}
	if !strings.HasPrefix(first.ID, "session_") {
		t.Fatalf("unexpected session id %q", first.ID)
	}

	second, err := svc.CurrentSession(ctx, "u1", "p1")
	if err != nil {
		t.Fatalf("CurrentSession err: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the existing session to be reused, got %s want %s", second.ID, first.ID)
	}
}

func TestSaveMessageAppendsInOrder(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	session, _ := svc.CurrentSession(ctx, "u1", "p1")

	for _, content := range []string{"q1", "a1", "q2"} {
		used, err := svc.SaveMessage(ctx, "u1", "p1", session.ID, chat.RoleUser, content)
		if err != nil {
			t.Fatalf("SaveMessage err: %v", err)
		}
		if used != session.ID {
			t.Fatalf("unexpected rollover to %s", used)
		}
	}

	history, err := svc.History(ctx, "u1", "p1", session.ID)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != 3 || history[0].Content != "q1" || history[2].Content != "q2" {
		t.Fatalf("unexpected history: %+v", history)
	}
	if history[0].ID == "" || history[0].CreatedAt.IsZero() {
		t.Fatalf("message id/timestamp not set: %+v", history[0])
	}
}

func TestSaveMessageRollsOverPastSizeLimit(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	session, _ := svc.CurrentSession(ctx, "u1", "p1")

	big := strings.Repeat("x", chatservice.SessionSizeLimit-10)
	if used, err := svc.SaveMessage(ctx, "u1", "p1", session.ID, chat.RoleUser, big); err != nil || used != session.ID {
		t.Fatalf("first save: used=%s err=%v", used, err)
	}

	// Exactly at the limit still fits.
	used, err := svc.SaveMessage(ctx, "u1", "p1", session.ID, chat.RoleAssistant, strings.Repeat("y", 10))
	if err != nil || used != session.ID {
		t.Fatalf("save at limit: used=%s err=%v", used, err)
	}

	used, err = svc.SaveMessage(ctx, "u1", "p1", session.ID, chat.RoleUser, "one more")
	if err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}
	if used == session.ID {
		t.Fatal("expected a new session once the limit is crossed")
	}

	old, _ := svc.History(ctx, "u1", "p1", session.ID)
	if len(old) != 2 {
		t.Fatalf("old session should keep 2 messages, got %d", len(old))
	}
	fresh, _ := svc.History(ctx, "u1", "p1", used)
	if len(fresh) != 1 || fresh[0].Content != "one more" {
		t.Fatalf("new session should hold the overflow message, got %+v", fresh)
	}

	current, _ := svc.CurrentSession(ctx, "u1", "p1")
	if current.ID != used {
		t.Fatalf("current session should be the rolled-over one, got %s want %s", current.ID, used)
	}
	if current.ReportsIncluded {
		t.Fatal("a rolled-over session starts without reports")
	}
}

func TestHistoryOfMissingSessionIsEmpty(t *testing.T) {
	svc, _ := newService()
	history, err := svc.History(context.Background(), "u1", "p1", "missing")
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}
}

func TestLatestSessionDoesNotCreate(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	if _, err := svc.LatestSession(ctx, "u1", "p1"); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.LatestSession(ctx, "u1", "p1"); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("a failed lookup must not leave a session behind, got %v", err)
	}

	created, err := svc.CurrentSession(ctx, "u1", "p1")
	if err != nil {
		t.Fatalf("CurrentSession err: %v", err)
	}
	latest, err := svc.LatestSession(ctx, "u1", "p1")
	if err != nil {
		t.Fatalf("LatestSession err: %v", err)
	}
	if latest.ID != created.ID {
		t.Fatalf("expected %s, got %s", created.ID, latest.ID)
	}
}
