package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"trafficmonitor/internal/detection"
	"trafficmonitor/internal/logger"
	"trafficmonitor/internal/models"
	"trafficmonitor/internal/repository"
)

// Snapshot is a buffered annotated frame waiting to be written.
type Snapshot struct {
	Name       SnapshotName
	Data       []byte
	Detections []models.Detection
}

// BufferService keeps snapshots in memory and flushes them to disk and the
// index periodically, so the detection loop never waits on I/O.
type BufferService struct {
	dir         string
	bufferLimit int
	repo        repository.SnapshotRepository
	classifier  *detection.Classifier
	clock       clock.Clock
	logger      *logger.Logger

	mu        sync.Mutex
	snapshots []Snapshot
	dropped   int
}

// NewBufferService creates a buffer writing to dir. repo may be nil, in which
// case files are written without being indexed.
func NewBufferService(dir string, bufferLimit int, repo repository.SnapshotRepository, classifier *detection.Classifier, logger *logger.Logger) *BufferService {
	return &BufferService{
		dir:         dir,
		bufferLimit: bufferLimit,
		repo:        repo,
		classifier:  classifier,
		clock:       clock.New(),
		logger:      logger,
	}
}

// Run flushes the buffer every interval until ctx is done, then flushes once more.
func (s *BufferService) Run(ctx context.Context, interval time.Duration) {
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}

// AddSnapshot buffers an annotated JPEG. Snapshots beyond the buffer limit are dropped.
func (s *BufferService) AddSnapshot(jpeg []byte, camera string, summary detection.FrameSummary, detections []detection.Detection) {
	data := make([]byte, len(jpeg))
	copy(data, jpeg)

	snap := Snapshot{
		Name:       NewSnapshotName(s.clock.Now(), camera, s.classifier.Labels(detections)),
		Data:       data,
		Detections: s.toModels(detections),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.snapshots) >= s.bufferLimit {
		s.dropped++
		s.logger.Warning("Snapshot buffer full (%d/%d) - dropping snapshot from %s", len(s.snapshots), s.bufferLimit, camera)
		return
	}
	s.snapshots = append(s.snapshots, snap)
	s.logger.Info("🚑 Snapshot buffered from %s (%d vehicles) - buffer %d/%d", camera, summary.VehicleCount, len(s.snapshots), s.bufferLimit)
}

func (s *BufferService) toModels(detections []detection.Detection) []models.Detection {
	out := make([]models.Detection, 0, len(detections))
	for _, d := range detections {
		cat := s.classifier.Classify(d.ClassID, d.ClassName)
		if cat == detection.Other {
			continue
		}
		out = append(out, models.Detection{
			Category:   cat.String(),
			ClassName:  d.ClassName,
			X:          d.Box.Min.X,
			Y:          d.Box.Min.Y,
			Width:      d.Box.Dx(),
			Height:     d.Box.Dy(),
			Confidence: d.Confidence,
		})
	}
	return out
}

// Pending returns the number of buffered snapshots.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

// Dropped returns how many snapshots were discarded because the buffer was full.
func (s *BufferService) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Flush writes buffered snapshots and indexes them. It returns the number written.
func (s *BufferService) Flush() int {
	s.mu.Lock()
	pending := s.snapshots
	s.snapshots = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return 0
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		s.logger.Error("Error creating snapshot directory: %v", err)
		return 0
	}

	written := 0
	for _, snap := range pending {
		filename := snap.Name.String()
		fullpath := filepath.Join(s.dir, filename)

		if err := os.WriteFile(fullpath, snap.Data, 0644); err != nil {
			s.logger.Error("Error saving snapshot %s: %v", filename, err)
			continue
		}
		written++

		if s.repo == nil {
			continue
		}
		record := &models.Snapshot{
			Filename:  filename,
			Camera:    snap.Name.Camera,
			Timestamp: snap.Name.Timestamp,
			FilePath:  fullpath,
			FileSize:  int64(len(snap.Data)),
			Labels:    snap.Name.Labels,
		}
		if _, err := s.repo.Insert(record, snap.Detections); err != nil {
			s.logger.Error("Error indexing snapshot %s: %v", filename, err)
		}
	}

	s.logger.Info("Flushed %d snapshot(s) to %s", written, s.dir)
	return written
}
