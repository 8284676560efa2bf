package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	timestampLayout = "2006-01-02_15-04-05.000"
	snapshotExt     = ".jpg"
)

// SnapshotName identifies a snapshot file on disk.
type SnapshotName struct {
	Timestamp time.Time
	Camera    string
	Labels    []string
	ID        string
}

// NewSnapshotName names a snapshot taken now by camera.
func NewSnapshotName(now time.Time, camera string, labels []string) SnapshotName {
	return SnapshotName{
		Timestamp: now.UTC(),
		Camera:    camera,
		Labels:    labels,
		ID:        strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
	}
}

// String renders date_time_camera_labels_id.jpg. Underscores are the field
// separator, so they are replaced in the camera name and labels.
func (n SnapshotName) String() string {
	labels := "none"
	if len(n.Labels) > 0 {
		cleaned := make([]string, len(n.Labels))
		for i, l := range n.Labels {
			cleaned[i] = sanitize(l)
		}
		labels = strings.Join(cleaned, "-")
	}
	return fmt.Sprintf("%s_%s_%s_%s%s",
		n.Timestamp.UTC().Format(timestampLayout), sanitize(n.Camera), labels, n.ID, snapshotExt)
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, "/", "-")
	if s == "" {
		return "unknown"
	}
	return s
}

// ParseSnapshotName parses a name produced by SnapshotName.String.
func ParseSnapshotName(filename string) (SnapshotName, error) {
	name, ok := strings.CutSuffix(filename, snapshotExt)
	if !ok {
		return SnapshotName{}, fmt.Errorf("not a snapshot file: %s", filename)
	}

	parts := strings.Split(name, "_")
	if len(parts) != 5 {
		return SnapshotName{}, fmt.Errorf("invalid filename format: %s", filename)
	}

	timestamp, err := time.Parse(timestampLayout, parts[0]+"_"+parts[1])
	if err != nil {
		return SnapshotName{}, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	var labels []string
	if parts[3] != "none" {
		labels = strings.Split(parts[3], "-")
	}

	return SnapshotName{
		Timestamp: timestamp,
		Camera:    parts[2],
		Labels:    labels,
		ID:        parts[4],
	}, nil
}
