package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"skysurvey-agent/internal/hub"
	"skysurvey-agent/internal/store"
	"skysurvey-agent/internal/syncer"
)

type WebSocketHandler struct {
	Hub    *hub.Hub
	Store  *store.Store
	Syncer *syncer.Syncer
}

type clientMessage struct {
	Type string `json:"type"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsWriter struct {
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

// Serve upgrades a UI client onto the event feed. The token query must
// match the current session; placeholder tokens are fine, the feed is
// local.
func (h *WebSocketHandler) Serve(c *gin.Context) {
	tokenString := c.Query("token")
	session, err := h.Store.LoadSession()
	if err != nil || session == nil || tokenString == "" || session.Token != tokenString {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	conn := &hub.Connection{ID: uuid.NewString(), Writer: &wsWriter{conn: ws}}
	h.Hub.Register(conn)
	defer func() {
		h.Hub.Unregister(conn)
		_ = ws.Close()
	}()

	// A fresh subscriber gets the current picture before any deltas.
	if status, err := h.Syncer.Status(); err == nil {
		snapshot, _ := json.Marshal(hub.Envelope{
			Type: "status_snapshot",
			Data: status,
			At:   time.Now().UnixMilli(),
		})
		_ = conn.Writer.Write(snapshot)
	}

	ws.SetReadLimit(64 * 1024)
	const pongWait = 60 * time.Second
	const writeWait = 10 * time.Second
	pingPeriod := (pongWait * 9) / 10

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() {
		closeOnce.Do(func() {
			close(done)
		})
	}
	defer closeDone()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(writeWait)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "ping":
			out, _ := json.Marshal(hub.Envelope{Type: "pong", At: time.Now().UnixMilli()})
			_ = conn.Writer.Write(out)
		case "sync":
			go h.Syncer.Trigger(c.Request.Context())
		}
	}
}
