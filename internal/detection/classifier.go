package detection

import "strings"

// COCO class ids (0-based, YOLO numbering) counted as vehicles:
// car, motorcycle, bus, truck.
var DefaultVehicleClassIDs = []int{2, 3, 5, 7}

// DefaultAmbulanceLabel is matched case-insensitively against class names.
const DefaultAmbulanceLabel = "ambulance"

// Classifier maps raw detections to categories using a fixed label set.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	vehicleIDs     map[int]struct{}
	ambulanceLabel string
}

// NewClassifier builds a classifier for the given vehicle class ids and ambulance label.
func NewClassifier(vehicleIDs []int, ambulanceLabel string) *Classifier {
	ids := make(map[int]struct{}, len(vehicleIDs))
	for _, id := range vehicleIDs {
		ids[id] = struct{}{}
	}
	return &Classifier{
		vehicleIDs:     ids,
		ambulanceLabel: ambulanceLabel,
	}
}

// DefaultClassifier uses the COCO vehicle ids and the "ambulance" label.
func DefaultClassifier() *Classifier {
	return NewClassifier(DefaultVehicleClassIDs, DefaultAmbulanceLabel)
}

// Classify returns the category for a class id and name.
//
// The vehicle id check runs first and short-circuits: a detection whose id is
// in the vehicle set is a Vehicle even if its name is the ambulance label.
func (c *Classifier) Classify(classID int, className string) Category {
	if _, ok := c.vehicleIDs[classID]; ok {
		return Vehicle
	}
	if c.ambulanceLabel != "" && strings.EqualFold(className, c.ambulanceLabel) {
		return Ambulance
	}
	return Other
}

// IsVehicleClass reports whether the class id belongs to the vehicle set.
func (c *Classifier) IsVehicleClass(classID int) bool {
	_, ok := c.vehicleIDs[classID]
	return ok
}
