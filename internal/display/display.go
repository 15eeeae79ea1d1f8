// Package display holds the surfaces a rendered frame is pushed to.
package display

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Sink receives every rendered frame
type Sink interface {
	Show(ctx context.Context, frame image.Image) error
}

// PNGFile writes each frame to a PNG file, replacing it atomically so a
// reader (image viewer, fbi, a kiosk browser) never sees a partial file.
type PNGFile struct {
	path string
}

// NewPNGFile creates a sink writing to path
func NewPNGFile(path string) *PNGFile {
	return &PNGFile{path: path}
}

// Path returns the output file
func (f *PNGFile) Path() string {
	return f.path
}

// Show encodes frame and renames it into place
func (f *PNGFile) Show(_ context.Context, frame image.Image) error {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".frame-*.png")
	if err != nil {
		return fmt.Errorf("failed to create temp frame: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, frame); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to publish frame: %w", err)
	}
	return nil
}

// Latest keeps the most recent frame, PNG-encoded, for the status server
type Latest struct {
	mu        sync.RWMutex
	png       []byte
	updatedAt time.Time
}

// NewLatest creates an empty in-memory sink
func NewLatest() *Latest {
	return &Latest{}
}

// Show stores frame
func (l *Latest) Show(_ context.Context, frame image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	l.mu.Lock()
	l.png = buf.Bytes()
	l.updatedAt = time.Now()
	l.mu.Unlock()
	return nil
}

// PNG returns the last frame and when it was stored; nil before the first frame
func (l *Latest) PNG() ([]byte, time.Time) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.png, l.updatedAt
}

// Multi fans a frame out to several sinks
type Multi []Sink

// Show pushes frame to every sink, collecting errors
func (m Multi) Show(ctx context.Context, frame image.Image) error {
	var errs []error
	for _, s := range m {
		if err := s.Show(ctx, frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
