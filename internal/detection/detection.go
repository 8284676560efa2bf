package detection

import (
	"fmt"
	"image"
)

// Category is the semantic class a raw detection is mapped to.
type Category int

const (
	Other Category = iota
	Vehicle
	Ambulance
)

func (c Category) String() string {
	switch c {
	case Vehicle:
		return "vehicle"
	case Ambulance:
		return "ambulance"
	default:
		return "other"
	}
}

// Detection is one object reported by the detector for a single frame.
type Detection struct {
	Box        image.Rectangle `json:"box"`
	ClassID    int             `json:"class_id"`
	ClassName  string          `json:"class_name"`
	Confidence float64         `json:"confidence"`
}

func (d Detection) String() string {
	return fmt.Sprintf("%s#%d (%.2f) %v", d.ClassName, d.ClassID, d.Confidence, d.Box)
}

// FrameSummary aggregates all detections of one frame.
type FrameSummary struct {
	VehicleCount     int  `json:"vehicles"`
	AmbulancePresent bool `json:"ambulance"`
}

// Postprocessor filters or modifies the detections of a frame.
type Postprocessor func([]Detection) []Detection

// NewScoreFilter drops detections below the given confidence.
func NewScoreFilter(conf float64) Postprocessor {
	return func(in []Detection) []Detection {
		out := make([]Detection, 0, len(in))
		for _, d := range in {
			if d.Confidence >= conf {
				out = append(out, d)
			}
		}
		return out
	}
}
