package display

import (
	"gocv.io/x/gocv"

	"trafficmonitor/internal/logger"
	"trafficmonitor/internal/pipeline"
	"trafficmonitor/internal/services/camera"
)

// Window shows frames in a local OpenCV window. Pressing q asks the loop to stop.
type Window struct {
	window *gocv.Window
	logger *logger.Logger
}

// NewWindow opens a window with the given title.
func NewWindow(title string, logger *logger.Logger) *Window {
	return &Window{window: gocv.NewWindow(title), logger: logger}
}

// Show draws the frame and polls the keyboard for 1ms.
func (w *Window) Show(frame pipeline.Frame) bool {
	mat, err := camera.MatOf(frame)
	if err != nil {
		w.logger.Warning("Cannot display frame: %v", err)
		return false
	}
	w.window.IMShow(*mat)
	key := w.window.WaitKey(1)
	return key == 'q' || key == 'Q'
}

// Close destroys the window.
func (w *Window) Close() error {
	return w.window.Close()
}
