package session

import (
	"context"
	"errors"
	"sync"
)

var ErrNoFrame = errors.New("no frame pushed since the last capture")

// FrameBuffer is a FrameSource fed by the browser. It keeps only the newest
// frame and hands each one out at most once, so the capture loop samples
// at its own interval however fast frames arrive.
type FrameBuffer struct {
	mu    sync.Mutex
	frame []byte
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Put replaces any frame not yet captured.
func (b *FrameBuffer) Put(frame []byte) {
	b.mu.Lock()
	b.frame = frame
	b.mu.Unlock()
}

func (b *FrameBuffer) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frame == nil {
		return nil, ErrNoFrame
	}
	frame := b.frame
	b.frame = nil
	return frame, nil
}
