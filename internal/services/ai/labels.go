package ai

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// cocoNames are the 80 COCO classes in YOLO order (0-based ids).
var cocoNames = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat", "traffic light",
	"fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse", "sheep", "cow",
	"elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase", "frisbee",
	"skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant", "bed",
	"dining table", "toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone", "microwave", "oven",
	"toaster", "sink", "refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// ssdNames maps the TensorFlow SSD MobileNet COCO ids (1-based, with gaps) used on roads.
var ssdNames = map[int]string{
	1:  "person",
	2:  "bicycle",
	3:  "car",
	4:  "motorcycle",
	6:  "bus",
	7:  "train",
	8:  "truck",
	10: "traffic light",
	13: "stop sign",
	17: "cat",
	18: "dog",
}

// Labels resolves class ids to names.
type Labels struct {
	names map[int]string
}

// Name returns the class name for id, or "unknown_<id>".
func (l Labels) Name(id int) string {
	if name, ok := l.names[id]; ok {
		return name
	}
	return fmt.Sprintf("unknown_%d", id)
}

// Len returns the number of known classes.
func (l Labels) Len() int {
	return len(l.names)
}

// DefaultLabels returns the built-in names for a model format.
func DefaultLabels(format string) Labels {
	if format == "ssd" {
		names := make(map[int]string, len(ssdNames))
		for k, v := range ssdNames {
			names[k] = v
		}
		return Labels{names: names}
	}
	return labelsFromList(cocoNames)
}

// LoadLabels reads a names file with one class per line (coco.names style);
// line N is class id N. Blank trailing lines are ignored.
func LoadLabels(path string) (Labels, error) {
	file, err := os.Open(path)
	if err != nil {
		return Labels{}, fmt.Errorf("failed to open labels file: %w", err)
	}
	defer file.Close()

	var names []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		names = append(names, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return Labels{}, fmt.Errorf("failed to read labels file: %w", err)
	}

	for len(names) > 0 && names[len(names)-1] == "" {
		names = names[:len(names)-1]
	}
	if len(names) == 0 {
		return Labels{}, fmt.Errorf("labels file %s is empty", path)
	}
	return labelsFromList(names), nil
}

func labelsFromList(list []string) Labels {
	names := make(map[int]string, len(list))
	for i, name := range list {
		if name != "" {
			names[i] = name
		}
	}
	return Labels{names: names}
}
