package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"trafficmonitor/internal/models"
)

// SnapshotRepository implements repository.SnapshotRepository for SQLite.
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository creates a new SQLite snapshot repository.
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Insert stores a snapshot with its labels and detections in one transaction.
func (r *SnapshotRepository) Insert(snap *models.Snapshot, detections []models.Detection) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO snapshots (filename, camera, timestamp, filepath, filesize)
		VALUES (?, ?, ?, ?, ?)
	`, snap.Filename, snap.Camera, snap.Timestamp.UTC(), snap.FilePath, snap.FileSize)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot id: %w", err)
	}

	if err := insertLabels(tx, id, snap.Labels); err != nil {
		return 0, err
	}

	if len(detections) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO detections (snapshot_id, category, class_name, x, y, width, height, confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return 0, fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, det := range detections {
			if _, err := stmt.Exec(id, det.Category, det.ClassName, det.X, det.Y, det.Width, det.Height, det.Confidence); err != nil {
				return 0, fmt.Errorf("failed to insert detection: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	snap.ID = id
	return id, nil
}

// InsertBatch indexes snapshots found on disk. Filenames already present are
// skipped. It returns the number of new rows.
func (r *SnapshotRepository) InsertBatch(snaps []models.Snapshot) (int, error) {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO snapshots (filename, camera, timestamp, filepath, filesize)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, snap := range snaps {
		result, err := stmt.Exec(snap.Filename, snap.Camera, snap.Timestamp.UTC(), snap.FilePath, snap.FileSize)
		if err != nil {
			return 0, fmt.Errorf("failed to insert snapshot %s: %w", snap.Filename, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			continue
		}
		id, err := result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to read snapshot id: %w", err)
		}
		if err := insertLabels(tx, id, snap.Labels); err != nil {
			return 0, err
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit snapshots: %w", err)
	}
	return inserted, nil
}

func insertLabels(tx *sql.Tx, id int64, labels []string) error {
	for _, label := range labels {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO snapshot_labels (snapshot_id, label) VALUES (?, ?)`, id, label); err != nil {
			return fmt.Errorf("failed to insert label: %w", err)
		}
	}
	return nil
}

// GetByID retrieves a snapshot by its ID. It returns nil when none exists.
func (r *SnapshotRepository) GetByID(id int64) (*models.Snapshot, error) {
	return r.getOne(`WHERE id = ?`, id)
}

// GetByFilename retrieves a snapshot by its filename. It returns nil when none exists.
func (r *SnapshotRepository) GetByFilename(filename string) (*models.Snapshot, error) {
	return r.getOne(`WHERE filename = ?`, filename)
}

func (r *SnapshotRepository) getOne(where string, arg interface{}) (*models.Snapshot, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var snap models.Snapshot
	err := r.db.Conn().QueryRow(`
		SELECT id, filename, camera, timestamp, filepath, filesize
		FROM snapshots `+where, arg).Scan(&snap.ID, &snap.Filename, &snap.Camera, &snap.Timestamp, &snap.FilePath, &snap.FileSize)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	if snap.Labels, err = r.labels(snap.ID); err != nil {
		return nil, err
	}
	return &snap, nil
}

// labels must be called with the read lock held and no open rows.
func (r *SnapshotRepository) labels(id int64) ([]string, error) {
	rows, err := r.db.Conn().Query(`SELECT label FROM snapshot_labels WHERE snapshot_id = ? ORDER BY label`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

func filterClause(filter *models.SnapshotFilter) (string, []interface{}) {
	clause := " WHERE 1=1"
	var args []interface{}

	if filter == nil {
		return clause, args
	}
	if filter.Camera != "" {
		clause += " AND s.camera = ?"
		args = append(args, filter.Camera)
	}
	if filter.Label != "" {
		clause += " AND EXISTS (SELECT 1 FROM snapshot_labels l WHERE l.snapshot_id = s.id AND l.label = ?)"
		args = append(args, filter.Label)
	}
	if !filter.StartDate.IsZero() {
		clause += " AND julianday(s.timestamp) >= julianday(?)"
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		clause += " AND julianday(s.timestamp) <= julianday(?)"
		args = append(args, filter.EndDate.UTC())
	}
	return clause, args
}

// GetAll retrieves snapshots matching filter, newest first.
func (r *SnapshotRepository) GetAll(filter *models.SnapshotFilter) ([]models.Snapshot, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)
	query := `SELECT s.id, s.filename, s.camera, s.timestamp, s.filepath, s.filesize FROM snapshots s` +
		where + ` ORDER BY s.timestamp DESC, s.id DESC`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}

	var snaps []models.Snapshot
	for rows.Next() {
		var snap models.Snapshot
		if err := rows.Scan(&snap.ID, &snap.Filename, &snap.Camera, &snap.Timestamp, &snap.FilePath, &snap.FileSize); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	// The pool holds a single connection; release it before loading labels.
	rows.Close()

	for i := range snaps {
		if snaps[i].Labels, err = r.labels(snaps[i].ID); err != nil {
			return nil, err
		}
	}
	return snaps, nil
}

// GetTotalCount returns the number of snapshots matching filter.
func (r *SnapshotRepository) GetTotalCount(filter *models.SnapshotFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)
	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM snapshots s`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}

// GetDetections returns the boxes stored with a snapshot.
func (r *SnapshotRepository) GetDetections(snapshotID int64) ([]models.Detection, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, snapshot_id, category, class_name, x, y, width, height, confidence
		FROM detections WHERE snapshot_id = ? ORDER BY id
	`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []models.Detection
	for rows.Next() {
		var det models.Detection
		if err := rows.Scan(&det.ID, &det.SnapshotID, &det.Category, &det.ClassName, &det.X, &det.Y, &det.Width, &det.Height, &det.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, det)
	}
	return detections, rows.Err()
}

// GetStats returns statistics about stored snapshots.
func (r *SnapshotRepository) GetStats() (*models.SnapshotStats, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	stats := &models.SnapshotStats{
		PerCamera:   make(map[string]int),
		LabelCounts: make(map[string]int),
	}

	if err := r.db.Conn().QueryRow(`SELECT COUNT(*), COALESCE(SUM(filesize), 0) FROM snapshots`).Scan(&stats.TotalSnapshots, &stats.TotalSizeBytes); err != nil {
		return nil, fmt.Errorf("failed to count snapshots: %w", err)
	}

	if err := r.countInto(`SELECT camera, COUNT(*) FROM snapshots GROUP BY camera`, stats.PerCamera); err != nil {
		return nil, err
	}
	if err := r.countInto(`SELECT label, COUNT(*) FROM snapshot_labels GROUP BY label`, stats.LabelCounts); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *SnapshotRepository) countInto(query string, into map[string]int) error {
	rows, err := r.db.Conn().Query(query)
	if err != nil {
		return fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan stats: %w", err)
		}
		into[key] = count
	}
	return rows.Err()
}

// DeleteByFilename removes a snapshot and its labels and detections.
func (r *SnapshotRepository) DeleteByFilename(filename string) error {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`DELETE FROM snapshots WHERE filename = ?`, filename)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("snapshot not found: %s", filename)
	}
	return nil
}

// DeleteAll removes every snapshot record.
func (r *SnapshotRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return nil
}
