package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"trafficmonitor/internal/broker"
	"trafficmonitor/internal/config"
	"trafficmonitor/internal/logger"
	"trafficmonitor/internal/pipeline"
)

// StatusSources are the live components reported on /api/status. Nil
// fields are omitted from the response.
type StatusSources struct {
	Loop      interface{ Status() pipeline.Status }
	Broker    interface{ Stats() broker.Stats }
	Viewers   interface{ GetClientCount() int }
	Snapshots interface {
		Pending() int
		Dropped() int
	}
}

// StatusResponse is the JSON body of /api/status.
type StatusResponse struct {
	Camera          string           `json:"camera"`
	Broker          string           `json:"broker"`
	VehicleTopic    string           `json:"vehicle_topic"`
	AmbulanceTopic  string           `json:"ambulance_topic"`
	PublishInterval string           `json:"publish_interval"`
	Loop            *pipeline.Status `json:"loop,omitempty"`
	MQTT            *broker.Stats    `json:"mqtt,omitempty"`
	Viewers         int              `json:"viewers"`
	Snapshots       *SnapshotBuffer  `json:"snapshots,omitempty"`
	Uptime          string           `json:"uptime"`
}

// SnapshotBuffer reports the snapshot buffer state.
type SnapshotBuffer struct {
	Pending int `json:"pending"`
	Dropped int `json:"dropped"`
}

// StatusHandler reports configuration and live counters as JSON.
func StatusHandler(cfg *config.Config, src StatusSources, started time.Time, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Camera:          cfg.CameraName,
			Broker:          cfg.BrokerURL(),
			VehicleTopic:    cfg.VehicleTopic,
			AmbulanceTopic:  cfg.AmbulanceTopic,
			PublishInterval: cfg.PublishInterval.String(),
			Uptime:          time.Since(started).Truncate(time.Second).String(),
		}
		if src.Loop != nil {
			st := src.Loop.Status()
			resp.Loop = &st
		}
		if src.Broker != nil {
			st := src.Broker.Stats()
			resp.MQTT = &st
		}
		if src.Viewers != nil {
			resp.Viewers = src.Viewers.GetClientCount()
		}
		if src.Snapshots != nil {
			resp.Snapshots = &SnapshotBuffer{Pending: src.Snapshots.Pending(), Dropped: src.Snapshots.Dropped()}
		}

		writeJSON(w, resp, logger)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}
