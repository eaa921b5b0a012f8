package app

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/simi/internal/observe"
)

// eventWriteTimeout bounds a single snapshot write to a client.
const eventWriteTimeout = 5 * time.Second

// handleEvents streams state snapshots over a WebSocket until the client goes
// away. The first message is the current state.
func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The shell is a single-user local process.
		InsecureSkipVerify: true,
	})
	if err != nil {
		observe.Logger(r.Context()).Debug("events: upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Clients never send; CloseRead handles control frames and cancels ctx on
	// disconnect.
	ctx := conn.CloseRead(context.WithoutCancel(r.Context()))

	snapshots, cancel := a.store.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closing:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, snap)
			wcancel()
			if err != nil {
				observe.Logger(r.Context()).Debug("events: client write failed", "err", err)
				return
			}
		}
	}
}
