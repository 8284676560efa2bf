package display

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"trafficmonitor/internal/detection"
	"trafficmonitor/internal/pipeline"
	"trafficmonitor/internal/services/camera"
)

var (
	green = color.RGBA{G: 255, A: 0}
	red   = color.RGBA{R: 255, A: 0}
)

// Overlay draws vehicle and ambulance boxes plus a status header onto frames.
type Overlay struct {
	classifier *detection.Classifier
	encode     bool
}

// NewOverlay creates an annotator. When encode is set the annotated frame is
// also returned as JPEG for viewers and snapshots.
func NewOverlay(classifier *detection.Classifier, encode bool) *Overlay {
	return &Overlay{classifier: classifier, encode: encode}
}

// Annotate draws onto the frame in place.
func (o *Overlay) Annotate(frame pipeline.Frame, detections []detection.Detection, summary detection.FrameSummary) ([]byte, error) {
	mat, err := camera.MatOf(frame)
	if err != nil {
		return nil, err
	}

	for _, d := range detections {
		switch o.classifier.Classify(d.ClassID, d.ClassName) {
		case detection.Vehicle:
			if err := drawBox(mat, d.Box, "Vehicle", green); err != nil {
				return nil, err
			}
		case detection.Ambulance:
			if err := drawBox(mat, d.Box, "Ambulance", red); err != nil {
				return nil, err
			}
		}
	}

	if err := gocv.PutText(mat, fmt.Sprintf("Vehicles detected: %d", summary.VehicleCount), image.Pt(10, 30), gocv.FontHersheySimplex, 1, green, 2); err != nil {
		return nil, fmt.Errorf("failed to draw text: %w", err)
	}
	if summary.AmbulancePresent {
		if err := gocv.PutText(mat, "Ambulance detected!", image.Pt(10, 70), gocv.FontHersheySimplex, 1, red, 2); err != nil {
			return nil, fmt.Errorf("failed to draw text: %w", err)
		}
	}

	if !o.encode {
		return nil, nil
	}
	return EncodeJPEG(*mat)
}

func drawBox(mat *gocv.Mat, box image.Rectangle, label string, c color.RGBA) error {
	if err := gocv.Rectangle(mat, box, c, 2); err != nil {
		return fmt.Errorf("failed to draw rectangle: %w", err)
	}
	pt := image.Pt(box.Min.X, box.Min.Y-10)
	if err := gocv.PutText(mat, label, pt, gocv.FontHersheySimplex, 0.5, c, 2); err != nil {
		return fmt.Errorf("failed to draw text: %w", err)
	}
	return nil
}

// EncodeJPEG returns a copy of the image encoded as JPEG.
func EncodeJPEG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
