package monitor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// FeedHandler streams the monitor's status-transition events to websocket
// clients, grounded on starsinc1708-TorrX's ws_hub.go connect/broadcast/
// disconnect shape, narrowed from a multi-client hub to one subscriber
// channel per connection since each client only wants its own feed (no
// shared broadcast buffer to fan out). This is a debug/observability
// surface for an out-of-scope external dashboard, not part of the core
// facade itself (spec.md §6 lists no websocket operation).
type FeedHandler struct {
	monitor  *Monitor
	upgrader websocket.Upgrader
}

func NewFeedHandler(m *Monitor) *FeedHandler {
	return &FeedHandler{
		monitor: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type wsEvent struct {
	TaskID string    `json:"task_id"`
	FileID string    `json:"file_id,omitempty"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	At     time.Time `json:"at"`
}

func (h *FeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("wsfeed upgrade failed: %s", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := h.monitor.Subscribe(64)
	defer unsubscribe()

	for ev := range events {
		msg := wsEvent{TaskID: ev.TaskID.String(), From: string(ev.From), To: string(ev.To), At: ev.At}
		if ev.HasFileID {
			msg.FileID = ev.FileID.String()
		}
		b, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}
