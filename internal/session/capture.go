package session

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"
)

// StartCapture grabs a frame from source every AnalysisInterval and sends it
// for analysis on its own goroutine. A tick is skipped while the previous
// analysis is still in flight.
func (v *View) StartCapture(source FrameSource) error {
	return v.startCapture(source, nil)
}

// StartFrameCapture runs the capture loop over frames delivered with
// PushFrame.
func (v *View) StartFrameCapture() error {
	frames := NewFrameBuffer()
	return v.startCapture(frames, frames)
}

// PushFrame hands the newest webcam frame to a loop started with
// StartFrameCapture.
func (v *View) PushFrame(frame []byte) error {
	v.mu.Lock()
	closed, frames := v.closed || v.disposing, v.frames
	v.mu.Unlock()

	switch {
	case closed || v.monitor.Cancelled():
		return ErrViewClosed
	case frames == nil:
		return ErrCaptureNotRunning
	}
	frames.Put(frame)
	return nil
}

func (v *View) startCapture(source FrameSource, frames *FrameBuffer) error {
	v.mu.Lock()
	if v.closed || v.disposing || v.monitor.Cancelled() {
		v.mu.Unlock()
		return ErrViewClosed
	}
	if v.captureCancel != nil {
		v.mu.Unlock()
		return ErrCaptureRunning
	}
	ctx, cancel := context.WithCancel(v.ctx)
	done := make(chan struct{})
	v.captureCancel = cancel
	v.captureDone = done
	v.frames = frames
	ticker := v.opts.Clock.NewTicker(v.opts.AnalysisInterval)
	v.mu.Unlock()

	v.monitor.StartMonitoring()
	go v.captureLoop(ctx, ticker, source, done)

	v.logger.Info("Capture loop started", "interval", v.opts.AnalysisInterval)
	return nil
}

// StopCapture stops the capture loop and waits for it to exit. Analysis
// already in flight is abandoned.
func (v *View) StopCapture() {
	v.stopCapture()
	v.monitor.StopMonitoring()
}

func (v *View) stopCapture() {
	v.mu.Lock()
	cancel, done := v.captureCancel, v.captureDone
	v.captureCancel, v.captureDone = nil, nil
	v.frames = nil
	v.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (v *View) captureLoop(ctx context.Context, ticker clockwork.Ticker, source FrameSource, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			v.captureOnce(ctx, source)
		}
	}
}

func (v *View) captureOnce(ctx context.Context, source FrameSource) {
	if v.monitor.Cancelled() {
		return
	}
	if !v.inFlight.CompareAndSwap(false, true) {
		v.logger.Debug("Skipping capture, analysis still in flight")
		return
	}

	frame, err := source.Capture(ctx)
	if err != nil {
		v.inFlight.Store(false)
		if errors.Is(err, ErrNoFrame) {
			v.logger.Debug("No new frame to analyze")
			return
		}
		v.logger.Warn("Frame capture failed", "error", err)
		return
	}

	started := v.goAsync(func() {
		defer v.inFlight.Store(false)
		v.monitor.Analyze(ctx, frame, v.opts.Backend)
	})
	if !started {
		v.inFlight.Store(false)
	}
}
