package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"trafficmonitor/internal/logger"
)

// Watcher delivers the content of a JPEG file each time another process
// rewrites it, for example a capture daemon writing to /dev/shm.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	frames  chan []byte
	logger  *logger.Logger
}

// Watch starts watching path. The parent directory is watched so that files
// replaced by rename are picked up too.
func Watch(path string, logger *logger.Logger) (*Watcher, error) {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	logger.Info("Watching %s for camera frames", path)
	return &Watcher{
		path:    path,
		watcher: watcher,
		frames:  make(chan []byte, 1),
		logger:  logger,
	}, nil
}

// Run forwards changed frames until ctx is done. The frames channel is closed
// when Run returns.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.frames)
	defer w.watcher.Close()

	var last []byte
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			data, err := os.ReadFile(w.path)
			if err != nil {
				w.logger.Warning("Error reading frame file: %v", err)
				continue
			}
			// Writers often trigger several events per frame; skip partial
			// and repeated content.
			if !bytes.HasPrefix(data, jpegHeader) || !bytes.HasSuffix(data, jpegFooter) || bytes.Equal(data, last) {
				continue
			}
			last = data

			select {
			case w.frames <- data:
			default:
				select {
				case <-w.frames:
				default:
				}
				w.frames <- data
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error: %v", err)
		}
	}
}

// Frames returns the channel of complete JPEG frames.
func (w *Watcher) Frames() <-chan []byte {
	return w.frames
}
