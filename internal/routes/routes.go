package routes

import (
	"context"
	"net/http"
	"time"

	"trafficmonitor/internal/config"
	"trafficmonitor/internal/handlers"
	"trafficmonitor/internal/logger"
	"trafficmonitor/internal/middleware"
	"trafficmonitor/internal/repository"
	"trafficmonitor/internal/services/stream"
	"trafficmonitor/internal/services/websocket"
)

// Dependencies are the services exposed over HTTP. Hub, Stream and Snapshots
// are optional; their routes are only registered when set.
type Dependencies struct {
	Config    *config.Config
	Logger    *logger.Logger
	Hub       *websocket.HubService
	Stream    *stream.MJPEGService
	Snapshots repository.SnapshotRepository
	Status    handlers.StatusSources
	Started   time.Time
}

// SetupRoutes registers the viewer, status, snapshot and log endpoints and
// wraps the mux with the authentication middleware.
func SetupRoutes(ctx context.Context, deps Dependencies) http.Handler {
	mux := http.NewServeMux()
	cfg := deps.Config

	mux.HandleFunc("GET /api/status", handlers.StatusHandler(cfg, deps.Status, deps.Started, deps.Logger))

	if deps.Hub != nil {
		mux.HandleFunc("/api/view", handlers.ViewWebsocketHandler(ctx, deps.Hub, deps.Logger))
	}
	if deps.Stream != nil {
		mux.Handle("GET /stream.mjpg", deps.Stream)
	}

	if deps.Snapshots != nil {
		mux.HandleFunc("GET /api/snapshots", handlers.GetSnapshotsHandler(deps.Snapshots, deps.Logger))
		mux.HandleFunc("GET /api/snapshots/view", handlers.ViewSnapshotHandler(cfg.SnapshotDirectory))
		mux.HandleFunc("GET /api/snapshots/detections", handlers.SnapshotDetectionsHandler(deps.Snapshots, deps.Logger))
		mux.HandleFunc("GET /api/snapshots/stats", handlers.SnapshotStatsHandler(deps.Snapshots, deps.Logger))
	}

	// Log endpoints
	for _, name := range []string{"info", "warning", "error"} {
		file := name + ".log"
		mux.HandleFunc("GET /logs/"+name, handlers.ShowLogsHandler(cfg.LogDirectory, file))
		mux.HandleFunc("POST /logs/"+name+"/clear", handlers.ClearLogsHandler(deps.Logger, file))
	}

	return middleware.AuthMiddleware(cfg.ViewerPassword, mux)
}
