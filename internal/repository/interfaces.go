package repository

import "trafficmonitor/internal/models"

// SnapshotRepository defines the operations on the ambulance snapshot index.
type SnapshotRepository interface {
	// Create operations
	Insert(snap *models.Snapshot, detections []models.Detection) (int64, error)
	InsertBatch(snaps []models.Snapshot) (int, error)

	// Read operations
	GetByID(id int64) (*models.Snapshot, error)
	GetByFilename(filename string) (*models.Snapshot, error)
	GetAll(filter *models.SnapshotFilter) ([]models.Snapshot, error)
	GetTotalCount(filter *models.SnapshotFilter) (int, error)
	GetDetections(snapshotID int64) ([]models.Detection, error)
	GetStats() (*models.SnapshotStats, error)

	// Delete operations
	DeleteByFilename(filename string) error
	DeleteAll() error
}
