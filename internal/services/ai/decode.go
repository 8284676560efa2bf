package ai

import (
	"image"
	"sort"

	"trafficmonitor/internal/detection"
)

// candidate is a raw box before non-maximum suppression.
type candidate struct {
	box     image.Rectangle
	classID int
	score   float32
}

// decodeYOLOv8 reads a [4+classes, anchors] output tensor laid out row-major:
// rows 0..3 hold cx, cy, w, h in input pixels, the rest hold per-class scores.
// Boxes are scaled by sx, sy back to frame coordinates and clipped to bounds.
func decodeYOLOv8(data []float32, channels, anchors int, sx, sy float64, minScore float32, bounds image.Rectangle) []candidate {
	if channels <= 4 || len(data) < channels*anchors {
		return nil
	}

	var out []candidate
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, float32(0)
		for c := 4; c < channels; c++ {
			if s := data[c*anchors+i]; s > bestScore {
				best, bestScore = c-4, s
			}
		}
		if best < 0 || bestScore < minScore {
			continue
		}

		cx := float64(data[i])
		cy := float64(data[anchors+i])
		w := float64(data[2*anchors+i])
		h := float64(data[3*anchors+i])

		box := image.Rect(
			int((cx-w/2)*sx), int((cy-h/2)*sy),
			int((cx+w/2)*sx), int((cy+h/2)*sy),
		).Intersect(bounds)
		if box.Empty() {
			continue
		}
		out = append(out, candidate{box: box, classID: best, score: bestScore})
	}
	return out
}

// decodeSSD reads rows of [batch, class, score, x1, y1, x2, y2] with
// coordinates normalized to the frame size.
func decodeSSD(data []float32, width, height int, minScore float32) []candidate {
	var out []candidate
	for i := 0; i+7 <= len(data); i += 7 {
		score := data[i+2]
		if score < minScore {
			continue
		}
		box := image.Rect(
			int(data[i+3]*float32(width)), int(data[i+4]*float32(height)),
			int(data[i+5]*float32(width)), int(data[i+6]*float32(height)),
		).Intersect(image.Rect(0, 0, width, height))
		if box.Empty() {
			continue
		}
		out = append(out, candidate{box: box, classID: int(data[i+1]), score: score})
	}
	return out
}

// nmsFunc returns the indices of the boxes that survive suppression.
type nmsFunc func(boxes []image.Rectangle, scores []float32) []int

// suppressPerClass runs nms separately for every class, so overlapping boxes
// of different classes never suppress each other. The kept indices refer to
// cands and are returned in ascending order.
func suppressPerClass(cands []candidate, nms nmsFunc) []int {
	groups := make(map[int][]int)
	for i, c := range cands {
		groups[c.classID] = append(groups[c.classID], i)
	}

	var keep []int
	for _, idx := range groups {
		boxes := make([]image.Rectangle, len(idx))
		scores := make([]float32, len(idx))
		for j, i := range idx {
			boxes[j] = cands[i].box
			scores[j] = cands[i].score
		}
		for _, k := range nms(boxes, scores) {
			if k >= 0 && k < len(idx) {
				keep = append(keep, idx[k])
			}
		}
	}
	sort.Ints(keep)
	return keep
}

func toDetections(cands []candidate, keep []int, labels Labels) []detection.Detection {
	dets := make([]detection.Detection, 0, len(keep))
	for _, idx := range keep {
		if idx < 0 || idx >= len(cands) {
			continue
		}
		c := cands[idx]
		dets = append(dets, detection.Detection{
			Box:        c.box,
			ClassID:    c.classID,
			ClassName:  labels.Name(c.classID),
			Confidence: float64(c.score),
		})
	}
	return dets
}
