package domwatch

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096}

type streamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// stream upgrades to a websocket and writes {"type":"batch","data":...}
// messages until the client goes away or the watcher stops.
func (a *api) stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batches, cancel, err := a.w.Subscribe(id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	logger := GetLogger(r.Context())
	logger.Info("domwatch: stream opened", "page", id)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case b, ok := <-batches:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "watcher stopped"),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(streamMessage{Type: "batch", Data: b}); err != nil {
				logger.Debug("domwatch: stream write", "error", err)
				return
			}
		case <-gone:
			logger.Info("domwatch: stream closed", "page", id)
			return
		}
	}
}
