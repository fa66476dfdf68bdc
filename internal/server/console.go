package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The daemon binds to localhost by default; a frontend proxy is
	// expected to enforce origin policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

// handleConsole upgrades to a websocket and bridges the server's console:
// every broadcast line goes to the peer as a text message, and every text
// message from the peer is injected as a command on the server's stdin.
func (r *Router) handleConsole(c *gin.Context) {
	id := c.Param("id")
	sub, err := r.sup.SubscribeLogs(id)
	if err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Unsubscribe()
		return
	}
	defer func() { _ = conn.Close() }()
	defer sub.Unsubscribe()

	// First frame is a metrics snapshot so the client can render current
	// state before any console line arrives.
	cpu, _, memBytes, diskBytes := r.sup.MetricsData(id)
	snapshot, _ := json.Marshal(map[string]any{
		"type":         "metrics",
		"cpu_percent":  cpu,
		"memory_bytes": memBytes,
		"disk_bytes":   diskBytes,
	})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
		return
	}

	// Reader: peer text frames become console commands. Errors end the
	// session.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind != websocket.TextMessage || len(data) == 0 {
				continue
			}
			if err := r.sup.SendCommand(id, string(data)); err != nil {
				slog.Debug("console command rejected", "server", id, "error", err)
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-sub.Lines():
			if !ok {
				// Server exited, tell the peer and end the stream.
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server stopped"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if msg.Dropped > 0 {
				notice := fmt.Sprintf("... %d lines dropped (console output too fast) ...", msg.Dropped)
				if err := conn.WriteMessage(websocket.TextMessage, []byte(notice)); err != nil {
					return
				}
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Text)); err != nil {
				return
			}
		}
	}
}
