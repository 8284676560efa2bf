package ingest

import (
	"bytes"
	"context"
	"errors"
	"net"

	"trafficmonitor/internal/logger"
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

// maxFrameSize bounds a reassembled frame so a lost footer cannot grow the buffer forever.
const maxFrameSize = 8 << 20

// Assembler reconstructs JPEG frames from datagrams. A datagram starting with
// the JPEG SOI marker starts a new frame; one ending with EOI completes it.
type Assembler struct {
	buf bytes.Buffer
}

// Push appends a datagram and returns a complete frame when one ends in it.
func (a *Assembler) Push(data []byte) ([]byte, bool) {
	if bytes.HasPrefix(data, jpegHeader) {
		a.buf.Reset()
	} else if a.buf.Len() == 0 {
		// Mid-frame packet without a header: wait for the next frame start.
		return nil, false
	}
	a.buf.Write(data)

	if a.buf.Len() > maxFrameSize {
		a.buf.Reset()
		return nil, false
	}

	if bytes.HasSuffix(data, jpegFooter) {
		frame := make([]byte, a.buf.Len())
		copy(frame, a.buf.Bytes())
		a.buf.Reset()
		return frame, true
	}
	return nil, false
}

// Receiver listens for UDP camera packets and delivers complete JPEG frames.
// Only packets from the first sender (or from allowIP when set) are used.
type Receiver struct {
	conn    *net.UDPConn
	allowIP string
	frames  chan []byte
	logger  *logger.Logger
}

// Listen opens a UDP listener on addr (for example ":9000").
func Listen(addr, allowIP string, logger *logger.Logger) (*Receiver, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	logger.Info("UDP camera receiver listening on %s", conn.LocalAddr())
	return &Receiver{
		conn:    conn,
		allowIP: allowIP,
		frames:  make(chan []byte, 1),
		logger:  logger,
	}, nil
}

// Addr returns the local listening address.
func (r *Receiver) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Run reads packets until ctx is done or the connection is closed. The frames
// channel is closed when Run returns.
func (r *Receiver) Run(ctx context.Context) {
	defer close(r.frames)

	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	var assembler Assembler
	buffer := make([]byte, 65535)

	for {
		n, remoteAddr, err := r.conn.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			r.logger.Error("Error reading UDP packet: %v", err)
			continue
		}

		ip := remoteAddr.IP.String()
		if r.allowIP == "" {
			r.allowIP = ip
			r.logger.Info("UDP camera stream from %s", ip)
		}
		if ip != r.allowIP {
			continue
		}

		frame, ok := assembler.Push(buffer[:n])
		if !ok {
			continue
		}

		// Keep only the newest frame when the loop is slower than the camera.
		select {
		case r.frames <- frame:
		default:
			select {
			case <-r.frames:
			default:
			}
			r.frames <- frame
		}
	}
}

// Frames returns the channel of complete JPEG frames.
func (r *Receiver) Frames() <-chan []byte {
	return r.frames
}

// Close stops the receiver.
func (r *Receiver) Close() error {
	return r.conn.Close()
}
