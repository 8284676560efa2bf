package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"trafficmonitor/internal/logger"
	ws "trafficmonitor/internal/services/websocket"
)

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler streams annotated frames to a viewer. ctx bounds the
// hub's lifetime.
func ViewWebsocketHandler(ctx context.Context, hub *ws.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warning("WebSocket upgrade error: %v", err)
			return
		}
		defer connection.Close()

		hub.Serve(ctx, connection)
	}
}
