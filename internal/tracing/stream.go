package tracing

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/prasenjit/go-intercept/internal/models"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// Event is one message written to a stream client
type Event struct {
	Type  string        `json:"type"`
	Trace *models.Trace `json:"trace"`
}

const (
	// EventReplay carries a trace journaled before the client connected
	EventReplay = "replay"
	// EventTrace carries a trace journaled while the client is connected
	EventTrace = "trace"
)

// StreamHandler pushes journal traces to WebSocket clients. The query
// parameters accepted by ParseFilter select which traces a client receives;
// replay=N first sends up to N already journaled traces, oldest first.
type StreamHandler struct {
	journal  *Journal
	logger   logrus.FieldLogger
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a stream handler over journal
func NewStreamHandler(journal *Journal, logger logrus.FieldLogger) *StreamHandler {
	return &StreamHandler{
		journal: journal,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	replay := 0
	if v := r.URL.Query().Get("replay"); v != "" {
		if replay, err = strconv.Atoi(v); err != nil || replay < 0 {
			http.Error(w, "replay must be a non-negative integer", http.StatusBadRequest)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Watch before replaying so no trace falls between the two.
	id, traces := h.journal.Watch(filter)
	defer h.journal.Unwatch(id)

	log := h.logger.WithField("watcher", id)

	if replay > 0 {
		past := *filter
		past.Limit = replay
		recent := h.journal.List(&past)
		for i := len(recent) - 1; i >= 0; i-- {
			if err := h.send(conn, EventReplay, recent[i]); err != nil {
				log.WithError(err).Debug("stream client went away")
				return
			}
		}
	}

	closed := make(chan struct{})
	go h.drain(conn, closed)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case trace, ok := <-traces:
			if !ok {
				return
			}
			if err := h.send(conn, EventTrace, trace); err != nil {
				log.WithError(err).Debug("stream client went away")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func (h *StreamHandler) send(conn *websocket.Conn, kind string, trace *models.Trace) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(Event{Type: kind, Trace: trace})
}

// drain reads until the client closes, keeping pong deadlines current
func (h *StreamHandler) drain(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
