package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"trafficmonitor/internal/detection"
	"trafficmonitor/internal/logger"
	"trafficmonitor/internal/publish"
)

// ErrAcquisition is returned by Run when the frame source stops delivering frames.
var ErrAcquisition = errors.New("frame acquisition failed")

// Frame is an opaque image owned by the loop until Close is called.
type Frame interface {
	Close() error
}

// FrameSource delivers frames. Next blocks until a frame is available and
// returns false when the source is exhausted or failed.
type FrameSource interface {
	Next() (Frame, bool)
	Close() error
}

// Detector runs object detection on a frame.
type Detector interface {
	Detect(frame Frame) ([]detection.Detection, error)
}

// Annotator draws detections and the summary onto the frame and returns it
// JPEG encoded, or nil when no encoded copy is needed.
type Annotator interface {
	Annotate(frame Frame, detections []detection.Detection, summary detection.FrameSummary) ([]byte, error)
}

// Display shows annotated frames locally. Show returns true when the operator asked to quit.
type Display interface {
	Show(frame Frame) (quit bool)
	Close() error
}

// FrameSink receives encoded frames for remote viewers.
type FrameSink interface {
	PushFrame(camera string, jpeg []byte, summary detection.FrameSummary)
}

// SnapshotSink stores frames in which an ambulance was reported.
type SnapshotSink interface {
	AddSnapshot(jpeg []byte, camera string, summary detection.FrameSummary, detections []detection.Detection)
}

// Options wires a Loop. Source, Detector, Classifier and Publisher are required.
type Options struct {
	Camera     string
	Source     FrameSource
	Detector   Detector
	Classifier *detection.Classifier
	Publisher  publish.Publisher
	Topics     publish.Topics
	Interval   time.Duration

	Annotator Annotator
	Display   Display
	Viewers   []FrameSink
	Snapshots SnapshotSink

	Clock  clock.Clock
	Logger *logger.Logger
}

// Status is a point-in-time view of the loop for the status endpoint.
type Status struct {
	Running         bool                   `json:"running"`
	FramesProcessed uint64                 `json:"frames_processed"`
	DetectionErrors uint64                 `json:"detection_errors"`
	LastSummary     detection.FrameSummary `json:"last_summary"`
	Publisher       publish.Stats          `json:"publisher"`
}

// Loop drives acquisition, detection, aggregation, publishing and rendering
// one frame at a time on a single goroutine.
type Loop struct {
	opts   Options
	clock  clock.Clock
	logger *logger.Logger

	scheduler *publish.Scheduler

	mu              sync.Mutex
	running         bool
	framesProcessed uint64
	detectionErrors uint64
	lastSummary     detection.FrameSummary
}

// New creates a loop from opts.
func New(opts Options) *Loop {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := opts.Logger
	if log == nil {
		log = logger.New(io.Discard, io.Discard)
	}
	return &Loop{
		opts:   opts,
		clock:  clk,
		logger: log,
	}
}

// Run processes frames until the source fails, the display asks to quit or
// ctx is cancelled. The source and display are closed before returning.
// A failing source yields an error wrapping ErrAcquisition.
func (l *Loop) Run(ctx context.Context) error {
	defer l.release()

	state := publish.NewState(l.opts.Interval, l.clock.Now())
	l.mu.Lock()
	l.scheduler = publish.NewScheduler(state, l.opts.Publisher, l.opts.Topics, l.logger)
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	l.logger.Info("🎬 Detection loop started for %s - publishing every %v", l.opts.Camera, state.SendInterval)

	for {
		if err := ctx.Err(); err != nil {
			l.logger.Info("Detection loop stopped: %v", err)
			return nil
		}

		frame, ok := l.opts.Source.Next()
		if !ok {
			// Channel-backed sources end when ctx is cancelled.
			if err := ctx.Err(); err != nil {
				l.logger.Info("Detection loop stopped: %v", err)
				return nil
			}
			l.logger.Error("Could not read a frame from %s", l.opts.Camera)
			return ErrAcquisition
		}

		quit := l.processFrame(frame)
		if err := frame.Close(); err != nil {
			l.logger.Warning("Failed to release frame: %v", err)
		}
		if quit {
			l.logger.Info("Detection loop stopped by operator")
			return nil
		}
	}
}

// processFrame handles a single frame and reports whether to quit.
func (l *Loop) processFrame(frame Frame) bool {
	detections, err := l.opts.Detector.Detect(frame)
	if err != nil {
		l.mu.Lock()
		l.detectionErrors++
		l.mu.Unlock()
		l.logger.Error("Object detection failed, skipping frame: %v", err)
		return l.show(frame)
	}

	summary := l.opts.Classifier.Aggregate(detections)
	outcome := l.scheduler.MaybePublish(summary, l.clock.Now())

	l.mu.Lock()
	l.framesProcessed++
	l.lastSummary = summary
	l.mu.Unlock()

	var encoded []byte
	if l.opts.Annotator != nil {
		encoded, err = l.opts.Annotator.Annotate(frame, detections, summary)
		if err != nil {
			l.logger.Warning("Failed to annotate frame: %v", err)
		}
	}

	if encoded != nil {
		for _, v := range l.opts.Viewers {
			v.PushFrame(l.opts.Camera, encoded, summary)
		}
		if outcome.Attempted && summary.AmbulancePresent && l.opts.Snapshots != nil {
			l.opts.Snapshots.AddSnapshot(encoded, l.opts.Camera, summary, detections)
		}
	}

	return l.show(frame)
}

func (l *Loop) show(frame Frame) bool {
	if l.opts.Display == nil {
		return false
	}
	return l.opts.Display.Show(frame)
}

func (l *Loop) release() {
	if err := l.opts.Source.Close(); err != nil {
		l.logger.Warning("Failed to close frame source: %v", err)
	}
	if l.opts.Display != nil {
		if err := l.opts.Display.Close(); err != nil {
			l.logger.Warning("Failed to close display: %v", err)
		}
	}
}

// Status returns the current loop status.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := Status{
		Running:         l.running,
		FramesProcessed: l.framesProcessed,
		DetectionErrors: l.detectionErrors,
		LastSummary:     l.lastSummary,
	}
	if l.scheduler != nil {
		st.Publisher = l.scheduler.Stats()
	}
	return st
}
