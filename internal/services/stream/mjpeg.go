package stream

import (
	"net/http"
	"sync/atomic"

	"github.com/hybridgroup/mjpeg"

	"trafficmonitor/internal/detection"
)

// MJPEGService republishes annotated frames as a multipart MJPEG stream that
// browsers and VLC can open directly.
type MJPEGService struct {
	stream *mjpeg.Stream
	frames atomic.Uint64
}

func NewMJPEGService() *MJPEGService {
	return &MJPEGService{stream: mjpeg.NewStream()}
}

// PushFrame replaces the frame served to stream clients.
func (m *MJPEGService) PushFrame(_ string, jpeg []byte, _ detection.FrameSummary) {
	m.stream.UpdateJPEG(jpeg)
	m.frames.Add(1)
}

// Frames returns the number of frames pushed so far.
func (m *MJPEGService) Frames() uint64 {
	return m.frames.Load()
}

func (m *MJPEGService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.stream.ServeHTTP(w, r)
}
