package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/docvisionai/backend/internal/service/qa"
)

type fakeAsker struct {
	deltas []string
	err    error
	got    qa.Request
}

func (f *fakeAsker) AskStream(_ context.Context, req qa.Request, onDelta func(string) error) (qa.Answer, error) {
	f.got = req
	for _, d := range f.deltas {
		if err := onDelta(d); err != nil {
			return qa.Answer{}, err
		}
	}
	if f.err != nil {
		return qa.Answer{}, f.err
	}
	return qa.Answer{SessionID: "session_1", Reply: strings.Join(f.deltas, "")}, nil
}

func newRouter(asker StreamAsker) http.Handler {
	r := chi.NewRouter()
	r.Route("/api", New(asker).RegisterRoutes)
	return r
}

func TestStreamEmitsEventsInOrder(t *testing.T) {
	asker := &fakeAsker{deltas: []string{"No ", "effusion."}}
	req := httptest.NewRequest(http.MethodPost, "/api/ask_ai/stream",
		strings.NewReader(`{"user_id":"u1","patient_id":"p1","question":"Pleura?"}`))
	rec := httptest.NewRecorder()

	newRouter(asker).ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	order := []string{"event: start", "event: delta\ndata: {\"content\":\"No \"}", "event: delta", "event: message", "event: end"}
	pos := 0
	for _, marker := range order {
		idx := strings.Index(body[pos:], marker)
		if idx < 0 {
			t.Fatalf("missing %q after offset %d in:\n%s", marker, pos, body)
		}
		pos += idx + len(marker)
	}
	if !strings.Contains(body, `"content":"No effusion."`) || !strings.Contains(body, `"sessionId":"session_1"`) {
		t.Fatalf("final message missing:\n%s", body)
	}
	if asker.got.PatientID != "p1" {
		t.Fatalf("request not forwarded: %+v", asker.got)
	}
}

func TestStreamValidationIsPlainJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/ask_ai/stream", strings.NewReader(`{"user_id":"u1"}`))
	rec := httptest.NewRecorder()

	newRouter(&fakeAsker{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Missing patient_id, question in request") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestStreamReportsFailureAsEvent(t *testing.T) {
	asker := &fakeAsker{err: errors.New("model unavailable")}
	req := httptest.NewRequest(http.MethodPost, "/api/ask_ai/stream",
		strings.NewReader(`{"user_id":"u1","patient_id":"p1","question":"q"}`))
	rec := httptest.NewRecorder()

	newRouter(asker).ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "event: error") || !strings.Contains(body, "model unavailable") {
		t.Fatalf("expected error event:\n%s", body)
	}
	if strings.Contains(body, "event: end") {
		t.Fatalf("failed stream must not end normally:\n%s", body)
	}
}

func dial(t *testing.T, asker StreamAsker) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(newRouter(asker))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ask_ai/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestWebSocketAsk(t *testing.T) {
	conn := dial(t, &fakeAsker{deltas: []string{"Lungs ", "clear."}})

	err := conn.WriteJSON(map[string]any{
		"type": "ask",
		"data": map[string]string{"user_id": "u1", "patient_id": "p1", "question": "Lungs?"},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	var types []string
	var final outgoingMessage
	for len(types) < 3 {
		var msg outgoingMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		types = append(types, msg.Type)
		final = msg
	}
	if strings.Join(types, ",") != "delta,delta,message" {
		t.Fatalf("unexpected frame order %v", types)
	}
	data, _ := final.Data.(map[string]any)
	if final.SessionID != "session_1" || data["content"] != "Lungs clear." {
		t.Fatalf("unexpected final frame %+v", final)
	}
}

func TestWebSocketRejectsUnknownAndInvalid(t *testing.T) {
	conn := dial(t, &fakeAsker{})

	if err := conn.WriteJSON(map[string]any{"type": "config"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var msg outgoingMessage
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "error" {
		t.Fatalf("expected error frame, got %+v (%v)", msg, err)
	}

	if err := conn.WriteJSON(map[string]any{"type": "ask", "data": map[string]string{"user_id": "u1"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "error" {
		t.Fatalf("expected validation error frame, got %+v (%v)", msg, err)
	}
	data, _ := msg.Data.(map[string]any)
	if data["message"] != "Missing patient_id, question in request" {
		t.Fatalf("unexpected message %v", data["message"])
	}
}

type slowAsker struct{ delay time.Duration }

func (s slowAsker) AskStream(ctx context.Context, req qa.Request, onDelta func(string) error) (qa.Answer, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return qa.Answer{}, ctx.Err()
	}
	if err := onDelta("done"); err != nil {
		return qa.Answer{}, err
	}
	return qa.Answer{SessionID: "session_1", Reply: "done"}, nil
}

func TestWebSocketSurvivesAnswerLongerThanReadTimeout(t *testing.T) {
	h := NewWebSocketHandler(slowAsker{delay: 600 * time.Millisecond})
	h.readTimeout = 200 * time.Millisecond
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	ask := map[string]any{
		"type": "ask",
		"data": map[string]string{"user_id": "u1", "patient_id": "p1", "question": "Pleura?"},
	}
	for round := 1; round <= 2; round++ {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ask); err != nil {
			t.Fatalf("round %d write: %v", round, err)
		}

		var types []string
		for len(types) < 2 {
			var msg outgoingMessage
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("round %d read after %v: %v", round, types, err)
			}
			types = append(types, msg.Type)
		}
		if strings.Join(types, ",") != "delta,message" {
			t.Fatalf("round %d: unexpected frames %v", round, types)
		}
	}
}
