package api

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"telegramdump/internal/mirror"
	"telegramdump/internal/models"
)

// Event is one message on the progress stream.
type Event struct {
	Type      string             `json:"type"`
	DialogID  int64              `json:"dialog_id,omitempty"`
	Name      string             `json:"name,omitempty"`
	MessageID int                `json:"message_id,omitempty"`
	Date      *time.Time         `json:"date,omitempty"`
	Processed int                `json:"processed,omitempty"`
	Limit     int                `json:"limit,omitempty"`
	Received  int64              `json:"received,omitempty"`
	Total     int64              `json:"total,omitempty"`
	Attempt   int                `json:"attempt,omitempty"`
	Counts    []models.KindCount `json:"counts,omitempty"`
	Summary   *mirror.Summary    `json:"summary,omitempty"`
	Running   *bool              `json:"running,omitempty"`
	Error     string             `json:"error,omitempty"`
}

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans mirror progress out to every connected websocket. It implements
// mirror.Reporter; slow clients miss events rather than stall the mirror.
type Hub struct {
	log *zap.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

var _ mirror.Reporter = (*Hub)(nil)

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, clients: map[*wsClient]struct{}{}}
}

// Broadcast queues ev for every client.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("Failed to encode event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// serve owns conn until the peer goes away. status answers "status" requests.
func (h *Hub) serve(conn *websocket.Conn, status func() Event) {
	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for data := range c.send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debug("Websocket write failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		close(c.send)
		h.mu.Unlock()
		<-done
		_ = conn.Close()
	}()

	reply := func(ev Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		select {
		case c.send <- data:
		default:
		}
	}
	reply(status())

	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			h.log.Debug("Websocket closed", zap.Error(err))
			return
		}
		switch msg.Type {
		case "ping":
			reply(Event{Type: "pong"})
		case "status":
			reply(status())
		}
	}
}

func (h *Hub) DialogStarted(d mirror.DialogStart) {
	h.Broadcast(Event{Type: "dialog_started", DialogID: d.ID, Name: d.Name, Limit: d.Limit, Processed: d.Processed})
}

func (h *Hub) MessageSaved(m *models.Message, processed int) {
	date := m.Date
	h.Broadcast(Event{Type: "message_saved", DialogID: m.DialogID, MessageID: m.ID, Date: &date, Processed: processed})
}

func (h *Hub) DownloadProgress(m *models.RemoteMessage, received, total int64) {
	h.Broadcast(Event{Type: "download_progress", DialogID: m.DialogID, MessageID: m.ID, Received: received, Total: total})
}

func (h *Hub) DownloadRetry(m *models.RemoteMessage, attempt int, err error) {
	h.Broadcast(Event{Type: "download_retry", DialogID: m.DialogID, MessageID: m.ID, Attempt: attempt, Error: err.Error()})
}

func (h *Hub) DialogFinished(dialogID int64, counts models.MediaCounts, err error) {
	ev := Event{Type: "dialog_finished", DialogID: dialogID, Counts: counts.Sorted()}
	if err != nil {
		ev.Error = err.Error()
	}
	h.Broadcast(ev)
}
