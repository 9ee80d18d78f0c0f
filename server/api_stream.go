package main

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from this process; same-origin checks add
	// nothing on a LAN appliance.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleDashboardStream upgrades to a WebSocket that receives window
// snapshots after each refresh.
func (a *API) handleDashboardStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	a.hub.Register(conn)

	// Drain the read side so close frames and pings are processed; the hub
	// owns all writes.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				a.hub.Unregister(conn)
				return
			}
		}
	}()
}
