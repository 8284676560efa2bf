package camera

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gocv.io/x/gocv"

	"trafficmonitor/internal/ingest"
	"trafficmonitor/internal/logger"
	"trafficmonitor/internal/pipeline"
)

// Frame is a captured image. The loop closes it after processing.
type Frame struct {
	Mat gocv.Mat
}

// Close releases the underlying Mat.
func (f *Frame) Close() error {
	return f.Mat.Close()
}

// MatOf returns the Mat of a pipeline frame produced by this package.
func MatOf(frame pipeline.Frame) (*gocv.Mat, error) {
	f, ok := frame.(*Frame)
	if !ok {
		return nil, fmt.Errorf("unsupported frame type %T", frame)
	}
	return &f.Mat, nil
}

// Open returns the frame source named by source: a device index ("0"), a file path,
// a stream URL ("rtsp://..."), a UDP JPEG listener ("udp://:9000") or a
// JPEG file rewritten by another process ("watch:///dev/shm/frame.jpg").
func Open(ctx context.Context, source string, logger *logger.Logger) (pipeline.FrameSource, error) {
	if addr, ok := strings.CutPrefix(source, "udp://"); ok {
		return OpenUDP(ctx, addr, logger)
	}
	if path, ok := strings.CutPrefix(source, "watch://"); ok {
		return OpenWatch(ctx, path, logger)
	}
	return OpenCapture(source, logger)
}

// CaptureSource reads frames through OpenCV's VideoCapture.
type CaptureSource struct {
	capture *gocv.VideoCapture
	logger  *logger.Logger
}

// OpenCapture opens a camera device, video file or stream URL.
func OpenCapture(source string, logger *logger.Logger) (*CaptureSource, error) {
	var device interface{} = source
	if id, err := strconv.Atoi(source); err == nil {
		device = id
	}

	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %s: %w", source, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("camera %s could not be opened", source)
	}

	logger.Info("📷 Camera opened: %s", source)
	return &CaptureSource{capture: capture, logger: logger}, nil
}

// Next reads the next frame. It returns false when the device stops delivering.
func (s *CaptureSource) Next() (pipeline.Frame, bool) {
	mat := gocv.NewMat()
	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, false
	}
	return &Frame{Mat: mat}, true
}

// Close releases the capture device.
func (s *CaptureSource) Close() error {
	return s.capture.Close()
}

// JPEGSource decodes JPEG frames delivered by an ingest receiver.
type JPEGSource struct {
	frames <-chan []byte
	cancel context.CancelFunc
	logger *logger.Logger
}

// OpenUDP starts a UDP receiver on addr.
func OpenUDP(ctx context.Context, addr string, logger *logger.Logger) (*JPEGSource, error) {
	receiver, err := ingest.Listen(addr, "", logger)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for UDP camera on %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	go receiver.Run(ctx)

	return &JPEGSource{frames: receiver.Frames(), cancel: cancel, logger: logger}, nil
}

// OpenWatch follows a JPEG file that another process keeps rewriting.
func OpenWatch(ctx context.Context, path string, logger *logger.Logger) (*JPEGSource, error) {
	watcher, err := ingest.Watch(path, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	go watcher.Run(ctx)

	return &JPEGSource{frames: watcher.Frames(), cancel: cancel, logger: logger}, nil
}

// Next blocks until a decodable frame arrives or the receiver stops.
func (s *JPEGSource) Next() (pipeline.Frame, bool) {
	for data := range s.frames {
		mat, err := gocv.IMDecode(data, gocv.IMReadColor)
		if err != nil {
			s.logger.Warning("Dropping undecodable frame (%d bytes): %v", len(data), err)
			continue
		}
		if mat.Empty() {
			s.logger.Warning("Dropping empty frame (%d bytes)", len(data))
			mat.Close()
			continue
		}
		return &Frame{Mat: mat}, true
	}
	return nil, false
}

// Close stops the receiver.
func (s *JPEGSource) Close() error {
	s.cancel()
	return nil
}
