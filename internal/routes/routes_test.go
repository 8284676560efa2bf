package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trafficmonitor/internal/broker"
	"trafficmonitor/internal/config"
	"trafficmonitor/internal/detection"
	"trafficmonitor/internal/handlers"
	"trafficmonitor/internal/logger"
	"trafficmonitor/internal/models"
	"trafficmonitor/internal/pipeline"
	"trafficmonitor/internal/repository/sqlite"
	"trafficmonitor/internal/services/stream"
	"trafficmonitor/internal/services/websocket"
)

// ========================================
// Test Setup Helpers
// ========================================

type fakeLoop struct{ status pipeline.Status }

func (f fakeLoop) Status() pipeline.Status { return f.status }

type fakeBroker struct{ stats broker.Stats }

func (f fakeBroker) Stats() broker.Stats { return f.stats }

func setupServer(t *testing.T, password string) (*httptest.Server, *sqlite.SnapshotRepository, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		BrokerHost:        "broker.local",
		BrokerPort:        1883,
		VehicleTopic:      "city/vehicles",
		AmbulanceTopic:    "city/ambulance",
		PublishInterval:   5 * time.Second,
		CameraName:        "north",
		SnapshotDirectory: filepath.Join(dir, "snapshots"),
		LogDirectory:      filepath.Join(dir, "logs"),
		ViewerPassword:    password,
	}

	db, err := sqlite.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := sqlite.NewSnapshotRepository(db)

	log := logger.New(io.Discard, io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := websocket.NewHubService(log)
	go hub.Run(ctx)

	handler := SetupRoutes(ctx, Dependencies{
		Config:    cfg,
		Logger:    log,
		Hub:       hub,
		Stream:    stream.NewMJPEGService(),
		Snapshots: repo,
		Status: handlers.StatusSources{
			Loop: fakeLoop{pipeline.Status{
				Running:         true,
				FramesProcessed: 42,
				LastSummary:     detection.FrameSummary{VehicleCount: 2, AmbulancePresent: true},
			}},
			Broker:  fakeBroker{broker.Stats{Connected: true, Published: map[string]uint64{"city/vehicles": 3}}},
			Viewers: hub,
		},
		Started: time.Now(),
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, repo, cfg
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ========================================
// Route Tests
// ========================================

func TestStatusEndpoint(t *testing.T) {
	server, _, _ := setupServer(t, "")

	resp := get(t, server.URL+"/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var status handlers.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if status.Camera != "north" || status.Broker != "tcp://broker.local:1883" || status.PublishInterval != "5s" {
		t.Errorf("Unexpected config summary %+v", status)
	}
	if status.Loop == nil || status.Loop.FramesProcessed != 42 || !status.Loop.LastSummary.AmbulancePresent {
		t.Errorf("Unexpected loop status %+v", status.Loop)
	}
	if status.MQTT == nil || !status.MQTT.Connected || status.MQTT.Published["city/vehicles"] != 3 {
		t.Errorf("Unexpected broker status %+v", status.MQTT)
	}
	if status.Snapshots != nil {
		t.Error("Snapshot buffer was not configured and must be omitted")
	}
}

func TestSnapshotEndpoints(t *testing.T) {
	server, repo, cfg := setupServer(t, "")

	os.MkdirAll(cfg.SnapshotDirectory, 0755)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		os.WriteFile(filepath.Join(cfg.SnapshotDirectory, name), []byte{0xFF, 0xD8, byte(i)}, 0644)
		_, err := repo.Insert(&models.Snapshot{
			Filename:  name,
			Camera:    "north",
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
			FilePath:  filepath.Join(cfg.SnapshotDirectory, name),
			FileSize:  3,
			Labels:    []string{"ambulance"},
		}, []models.Detection{{Category: "ambulance", ClassName: "ambulance", Width: 10, Height: 10}})
		if err != nil {
			t.Fatal(err)
		}
	}

	t.Run("list with paging", func(t *testing.T) {
		resp := get(t, server.URL+"/api/snapshots?page=2&limit=2")
		var data handlers.SnapshotsData
		if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
			t.Fatalf("Invalid JSON: %v", err)
		}
		if data.Total != 3 || data.TotalPages != 2 || len(data.Snapshots) != 1 || data.Snapshots[0].Filename != "a.jpg" {
			t.Errorf("Unexpected page %+v", data)
		}
	})

	t.Run("date filter", func(t *testing.T) {
		resp := get(t, server.URL+"/api/snapshots?from=2024-05-02&to=2024-05-02")
		var data handlers.SnapshotsData
		json.NewDecoder(resp.Body).Decode(&data)
		if data.Total != 1 || len(data.Snapshots) != 1 || data.Snapshots[0].Filename != "b.jpg" {
			t.Errorf("Unexpected filtered page %+v", data)
		}
	})

	t.Run("invalid date", func(t *testing.T) {
		if resp := get(t, server.URL+"/api/snapshots?from=May"); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("view file", func(t *testing.T) {
		resp := get(t, server.URL+"/api/snapshots/view?name=b.jpg")
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK || len(body) != 3 || body[2] != 1 {
			t.Errorf("Unexpected file response %d %v", resp.StatusCode, body)
		}
	})

	t.Run("path traversal", func(t *testing.T) {
		resp := get(t, server.URL+"/api/snapshots/view?name=../test.db")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("detections", func(t *testing.T) {
		resp := get(t, server.URL+"/api/snapshots/detections?name=c.jpg")
		var dets []models.Detection
		json.NewDecoder(resp.Body).Decode(&dets)
		if len(dets) != 1 || dets[0].Category != "ambulance" {
			t.Errorf("Unexpected detections %+v", dets)
		}
		if resp := get(t, server.URL+"/api/snapshots/detections?name=zzz.jpg"); resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", resp.StatusCode)
		}
	})

	t.Run("stats", func(t *testing.T) {
		resp := get(t, server.URL+"/api/snapshots/stats")
		var stats models.SnapshotStats
		json.NewDecoder(resp.Body).Decode(&stats)
		if stats.TotalSnapshots != 3 || stats.PerCamera["north"] != 3 {
			t.Errorf("Unexpected stats %+v", stats)
		}
	})
}

func TestLogEndpoints(t *testing.T) {
	server, _, cfg := setupServer(t, "")

	if resp := get(t, server.URL+"/logs/info"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 before any log is written, got %d", resp.StatusCode)
	}

	os.MkdirAll(cfg.LogDirectory, 0755)
	os.WriteFile(filepath.Join(cfg.LogDirectory, "warning.log"), []byte("broker slow\n"), 0644)

	resp := get(t, server.URL+"/logs/warning")
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "broker slow") {
		t.Errorf("Unexpected log response %d %q", resp.StatusCode, body)
	}

	// A writer-only logger has no files to rotate.
	cleared, err := http.Post(server.URL+"/logs/warning/clear", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	cleared.Body.Close()
	if cleared.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500 without log files, got %d", cleared.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	server, _, _ := setupServer(t, "secret")

	if resp := get(t, server.URL+"/api/status"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/status", nil)
	req.SetBasicAuth("viewer", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 with credentials, got %d", resp.StatusCode)
	}
}
