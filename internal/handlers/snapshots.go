package handlers

import (
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"trafficmonitor/internal/logger"
	"trafficmonitor/internal/models"
	"trafficmonitor/internal/repository"
)

// SnapshotsData is one page of ambulance snapshots.
type SnapshotsData struct {
	Snapshots   []models.Snapshot `json:"snapshots"`
	Total       int               `json:"total"`
	TotalPages  int               `json:"totalPages"`
	CurrentPage int               `json:"currentPage"`
	Limit       int               `json:"pageSize"`
}

// GetSnapshotsHandler lists indexed snapshots, newest first. Query parameters:
// page, limit, camera, label, from and to (YYYY-MM-DD).
func GetSnapshotsHandler(repo repository.SnapshotRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		page, err := strconv.Atoi(q.Get("page"))
		if page <= 0 || err != nil {
			page = 1
		}
		limit, err := strconv.Atoi(q.Get("limit"))
		if limit <= 0 || err != nil {
			limit = 10
		}

		filter := &models.SnapshotFilter{
			Camera: q.Get("camera"),
			Label:  q.Get("label"),
			Limit:  limit,
			Offset: (page - 1) * limit,
		}
		if from := q.Get("from"); from != "" {
			t, err := time.Parse(time.DateOnly, from)
			if err != nil {
				http.Error(w, "Invalid from date", http.StatusBadRequest)
				return
			}
			filter.StartDate = t
		}
		if to := q.Get("to"); to != "" {
			t, err := time.Parse(time.DateOnly, to)
			if err != nil {
				http.Error(w, "Invalid to date", http.StatusBadRequest)
				return
			}
			filter.EndDate = t.Add(24*time.Hour - time.Nanosecond)
		}

		snaps, err := repo.GetAll(filter)
		if err != nil {
			logger.Error("Failed to list snapshots: %v", err)
			http.Error(w, "Failed to list snapshots", http.StatusInternalServerError)
			return
		}
		total, err := repo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Failed to count snapshots: %v", err)
			http.Error(w, "Failed to list snapshots", http.StatusInternalServerError)
			return
		}
		if snaps == nil {
			snaps = []models.Snapshot{}
		}

		writeJSON(w, SnapshotsData{
			Snapshots:   snaps,
			Total:       total,
			TotalPages:  (total + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		}, logger)
	}
}

// ViewSnapshotHandler serves the JPEG of ?name=<filename> from dir.
func ViewSnapshotHandler(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(r.URL.Query().Get("name"))
		if name == "." || name == "/" || filepath.Ext(name) != ".jpg" {
			http.Error(w, "Invalid snapshot name", http.StatusBadRequest)
			return
		}
		http.ServeFile(w, r, filepath.Join(dir, name))
	}
}

// SnapshotStatsHandler reports totals per camera and label.
func SnapshotStatsHandler(repo repository.SnapshotRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := repo.GetStats()
		if err != nil {
			logger.Error("Failed to read snapshot stats: %v", err)
			http.Error(w, "Failed to read stats", http.StatusInternalServerError)
			return
		}
		writeJSON(w, stats, logger)
	}
}

// SnapshotDetectionsHandler returns the stored boxes of ?name=<filename>.
func SnapshotDetectionsHandler(repo repository.SnapshotRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := repo.GetByFilename(r.URL.Query().Get("name"))
		if err != nil {
			logger.Error("Failed to read snapshot: %v", err)
			http.Error(w, "Failed to read snapshot", http.StatusInternalServerError)
			return
		}
		if snap == nil {
			http.NotFound(w, r)
			return
		}
		dets, err := repo.GetDetections(snap.ID)
		if err != nil {
			logger.Error("Failed to read detections: %v", err)
			http.Error(w, "Failed to read detections", http.StatusInternalServerError)
			return
		}
		if dets == nil {
			dets = []models.Detection{}
		}
		writeJSON(w, dets, logger)
	}
}
