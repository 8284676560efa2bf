package models

import "time"

// Snapshot is an annotated frame saved while an ambulance was being reported.
type Snapshot struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	Camera    string    `json:"camera"`
	Timestamp time.Time `json:"timestamp"`
	FilePath  string    `json:"filepath"`
	FileSize  int64     `json:"filesize"`
	Labels    []string  `json:"labels,omitempty"`
}

// SnapshotFilter contains filtering options for querying snapshots.
type SnapshotFilter struct {
	Camera    string
	Label     string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
	Offset    int
}

// SnapshotStats contains statistics about stored snapshots.
type SnapshotStats struct {
	TotalSnapshots int            `json:"total_snapshots"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	PerCamera      map[string]int `json:"per_camera"`
	LabelCounts    map[string]int `json:"label_counts"`
}
