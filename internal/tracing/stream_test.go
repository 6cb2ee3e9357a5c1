package tracing

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prasenjit/go-intercept/internal/logging"
	"github.com/prasenjit/go-intercept/internal/models"
)

func dial(t *testing.T, j *Journal, query string) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(NewStreamHandler(j, logging.Discard()))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/?"+query, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for j.Summary().Watchers != 1 {
		if time.Now().After(deadline) {
			t.Fatal("watcher never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return ev
}

func TestStreamHandler_FiltersByOutcome(t *testing.T) {
	j := NewJournal(10)
	conn := dial(t, j, "outcome=unmatched")

	j.Record(&models.Trace{RuleID: "hit", Outcome: models.OutcomeMatched})
	j.Record(&models.Trace{ID: "miss", Outcome: models.OutcomeUnmatched})

	ev := readEvent(t, conn)
	if ev.Type != EventTrace || ev.Trace.ID != "miss" {
		t.Errorf("Expected unmatched trace event, got %s %+v", ev.Type, ev.Trace)
	}
}

func TestStreamHandler_Replay(t *testing.T) {
	j := NewJournal(10)
	for _, id := range []string{"old", "older-hit", "recent"} {
		j.Record(&models.Trace{ID: id, Outcome: models.OutcomeMatched})
	}

	conn := dial(t, j, "replay=2")

	for _, want := range []string{"older-hit", "recent"} {
		ev := readEvent(t, conn)
		if ev.Type != EventReplay || ev.Trace.ID != want {
			t.Errorf("Expected replay of %s, got %s %s", want, ev.Type, ev.Trace.ID)
		}
	}

	j.Record(&models.Trace{ID: "live"})
	if ev := readEvent(t, conn); ev.Type != EventTrace || ev.Trace.ID != "live" {
		t.Errorf("Expected live trace, got %s %s", ev.Type, ev.Trace.ID)
	}
}

func TestStreamHandler_BadFilter(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/?outcome=lost", nil)
	NewStreamHandler(NewJournal(1), logging.Discard()).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}
