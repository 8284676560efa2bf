package ai

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"trafficmonitor/internal/config"
	"trafficmonitor/internal/detection"
	"trafficmonitor/internal/logger"
	"trafficmonitor/internal/pipeline"
	"trafficmonitor/internal/services/camera"
)

// yoloInputSize is the square input resolution of the exported YOLOv8 models.
const yoloInputSize = 640

// ErrModelLoad is returned when the network cannot be read from disk.
var ErrModelLoad = errors.New("failed to load detection model")

// DetectorService runs a DNN object detector on camera frames.
type DetectorService struct {
	mu           sync.Mutex // gocv.Net is not safe for concurrent use
	net          gocv.Net
	format       string
	labels       Labels
	nmsThreshold float32
	minScore     float32
	postprocess  detection.Postprocessor
	logger       *logger.Logger
}

// NewDetectorService loads the model described by cfg.
func NewDetectorService(cfg *config.Config, logger *logger.Logger) (*DetectorService, error) {
	labels := DefaultLabels(cfg.ModelFormat)
	if cfg.LabelsPath != "" {
		loaded, err := LoadLabels(cfg.LabelsPath)
		if err != nil {
			return nil, err
		}
		labels = loaded
	}

	s := &DetectorService{
		format:       cfg.ModelFormat,
		labels:       labels,
		nmsThreshold: float32(cfg.NMSThreshold),
		minScore:     float32(cfg.ConfidenceThreshold),
		postprocess:  detection.NewScoreFilter(cfg.ConfidenceThreshold),
		logger:       logger,
	}

	if err := s.initializeNet(cfg.ModelPath, cfg.ModelConfigPath); err != nil {
		return nil, err
	}
	logger.Info("🧠 Detection network initialized (%s, %d classes)", s.format, labels.Len())
	return s, nil
}

func (s *DetectorService) initializeNet(modelPath, configPath string) error {
	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("%w: model file %s: %v", ErrModelLoad, modelPath, err)
	}

	var net gocv.Net
	switch s.format {
	case config.ModelFormatSSD:
		if _, err := os.Stat(configPath); err != nil {
			return fmt.Errorf("%w: config file %s: %v", ErrModelLoad, configPath, err)
		}
		net = gocv.ReadNet(modelPath, configPath)
	default:
		net = gocv.ReadNetFromONNX(modelPath)
	}

	if net.Empty() {
		return fmt.Errorf("%w: %s", ErrModelLoad, modelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable target: %w", err)
	}

	s.net = net
	return nil
}

// Detect runs inference on a frame produced by the camera package.
func (s *DetectorService) Detect(frame pipeline.Frame) ([]detection.Detection, error) {
	mat, err := camera.MatOf(frame)
	if err != nil {
		return nil, err
	}
	return s.DetectMat(*mat)
}

// DetectMat runs inference on a BGR image.
func (s *DetectorService) DetectMat(mat gocv.Mat) ([]detection.Detection, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("image is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.net.Empty() {
		return nil, fmt.Errorf("detection network not initialized")
	}

	var (
		cands []candidate
		err   error
	)
	switch s.format {
	case config.ModelFormatSSD:
		cands, err = s.forwardSSD(mat)
	default:
		cands, err = s.forwardYOLOv8(mat)
	}
	if err != nil {
		return nil, err
	}

	keep := s.suppress(cands)
	return s.postprocess(toDetections(cands, keep, s.labels)), nil
}

func (s *DetectorService) forwardYOLOv8(mat gocv.Mat) ([]candidate, error) {
	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(yoloInputSize, yoloInputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected YOLOv8 output shape %v", dims)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read network output: %w", err)
	}

	sx := float64(mat.Cols()) / yoloInputSize
	sy := float64(mat.Rows()) / yoloInputSize
	bounds := image.Rect(0, 0, mat.Cols(), mat.Rows())
	return decodeYOLOv8(data, dims[1], dims[2], sx, sy, s.minScore, bounds), nil
}

func (s *DetectorService) forwardSSD(mat gocv.Mat) ([]candidate, error) {
	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read network output: %w", err)
	}
	return decodeSSD(data, mat.Cols(), mat.Rows(), s.minScore), nil
}

func (s *DetectorService) suppress(cands []candidate) []int {
	if len(cands) == 0 {
		return nil
	}
	return suppressPerClass(cands, func(boxes []image.Rectangle, scores []float32) []int {
		return gocv.NMSBoxes(boxes, scores, s.minScore, s.nmsThreshold)
	})
}

// Close releases the network.
func (s *DetectorService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net.Close()
}
