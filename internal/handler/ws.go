package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	// Pings must be spaced closer than the pong timeout.
	wsPingInterval = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from a different origin in every deployment;
	// the feed is read-only so origin checks gain nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// OrdersFeed upgrades the connection and streams full order-list snapshots.
// The client receives the current state immediately on subscribe, then a
// fresh frame after every mutation.
func (h *Handler) OrdersFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		lg.Warn("Upgrade websocket", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	sub, err := h.hub.Subscribe(ctx)
	if err != nil {
		lg.Error("Subscribe to order feed", zap.Error(err))
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
		return
	}
	defer h.hub.Unsubscribe(sub)

	// Reader goroutine: the feed is one-way, so the read loop exists only
	// to observe close frames and keep pong handling alive.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case frame, ok := <-sub.Updates():
			if !ok {
				// Hub dropped us or shut down.
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				lg.Debug("Write order frame", zap.Error(err))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
