package models

// Detection is an object box stored with a snapshot.
type Detection struct {
	ID         int64   `json:"id"`
	SnapshotID int64   `json:"snapshot_id"`
	Category   string  `json:"category"`
	ClassName  string  `json:"class_name"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}
