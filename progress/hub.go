package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

var ErrUserNotConnected = fmt.Errorf("user not connected")

// Hub tracks one websocket connection per user and pushes sandbox status
// events to it. A reconnecting user replaces the previous connection.
type Hub struct {
	lock        sync.RWMutex
	connections map[string]*websocket.Conn
	writeWait   time.Duration
}

func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*websocket.Conn),
		writeWait:   5 * time.Second,
	}
}

func (h *Hub) HandleProgress(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(400)
		w.Write([]byte("400 Bad Request"))
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Println("ERROR:", err)
		return
	}
	h.lock.Lock()
	if prev, ok := h.connections[userID]; ok {
		prev.Close(websocket.StatusNormalClosure, "superseded")
	}
	h.connections[userID] = conn
	h.lock.Unlock()
	ctx := r.Context()
	for {
		// Clients never send anything meaningful; the read loop only
		// detects disconnects.
		_, _, err := conn.Read(ctx)
		if err != nil {
			eReal := new(websocket.CloseError)
			if errors.As(err, eReal) {
				if eReal.Code != websocket.StatusNormalClosure && eReal.Code != websocket.StatusNoStatusRcvd {
					log.Println("ERROR:", eReal.Error())
				}
			}
			h.lock.Lock()
			if h.connections[userID] == conn {
				delete(h.connections, userID)
			}
			h.lock.Unlock()
			conn.Close(websocket.StatusNormalClosure, "bye")
			return
		}
	}
}

func (h *Hub) Send(userID string, status *SandboxStatus) error {
	h.lock.RLock()
	conn, ok := h.connections[userID]
	h.lock.RUnlock()
	if !ok {
		return ErrUserNotConnected
	}
	j, err := json.Marshal(status)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.writeWait)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, j)
}

func (h *Hub) Connected(userID string) bool {
	h.lock.RLock()
	defer h.lock.RUnlock()
	_, ok := h.connections[userID]
	return ok
}
