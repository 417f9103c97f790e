// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nine-minds/alga-remote/lib/clock"
)

// ElevatedSource captures frames from a privileged helper when the
// desktop enters a secure context the unprivileged backend cannot see.
// The privilege bridge client implements it.
type ElevatedSource interface {
	CaptureFrame() (*Frame, error)
}

// Gate answers whether remote input may currently be applied: the
// session must be active and hold the input-control capability. The
// agent wires this to its session state.
type Gate func() bool

// PipelineConfig tunes the capture loop.
type PipelineConfig struct {
	// TargetFPS is the initial capture rate. Default 30.
	TargetFPS int
	// MinFPS is the floor the viewer's quality requests cannot go
	// below. Default 1.
	MinFPS int
	// QueueDepth is the encode queue bound; overflow drops the oldest
	// queued frame. Default 8.
	QueueDepth int
	// StatePollInterval is how often the desktop state is re-checked.
	// Default 500ms; this bounds the secure-context handoff gap.
	StatePollInterval time.Duration
}

func (c *PipelineConfig) applyDefaults() {
	if c.TargetFPS <= 0 {
		c.TargetFPS = 30
	}
	if c.MinFPS <= 0 {
		c.MinFPS = 1
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 8
	}
	if c.StatePollInterval <= 0 {
		c.StatePollInterval = 500 * time.Millisecond
	}
}

// Pipeline runs one session's capture loop: pace frames out of the
// backend, hand off to the elevated source across secure-context
// transitions, compress, and stream. It also fronts the backend's
// injection calls with the session's input gate.
//
// The pipeline fails at most once: a capture path reporting
// ErrCaptureUnavailable ends the run with that error and the agent
// fails the session. Transient capture errors are logged and skipped.
type Pipeline struct {
	backend  Backend
	elevated ElevatedSource
	gate     Gate
	clock    clock.Clock
	logger   *slog.Logger
	config   PipelineConfig

	targetFPS atomic.Int64

	mu               sync.Mutex
	elevatedAllowed  bool
	placeholderShown bool

	injected     atomic.Uint64
	injectDenied atomic.Uint64
}

// NewPipeline builds a pipeline over an opened backend. elevated may
// be nil; it is only consulted when AllowElevated(true) was called.
func NewPipeline(backend Backend, elevated ElevatedSource, gate Gate, clk clock.Clock, logger *slog.Logger, config PipelineConfig) *Pipeline {
	config.applyDefaults()
	p := &Pipeline{
		backend:  backend,
		elevated: elevated,
		gate:     gate,
		clock:    clk,
		logger:   logger,
		config:   config,
	}
	p.targetFPS.Store(int64(config.TargetFPS))
	return p
}

// AllowElevated enables or disables the privilege-bridge handoff.
// Wired to the session's privilege-elevation capability.
func (p *Pipeline) AllowElevated(allowed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elevatedAllowed = allowed
}

// SetTargetFPS applies a viewer quality request, clamped to
// [MinFPS, configured TargetFPS].
func (p *Pipeline) SetTargetFPS(fps int) {
	if fps < p.config.MinFPS {
		fps = p.config.MinFPS
	}
	if fps > p.config.TargetFPS {
		fps = p.config.TargetFPS
	}
	p.targetFPS.Store(int64(fps))
}

// InjectedCount reports how many injection calls reached the backend.
func (p *Pipeline) InjectedCount() uint64 { return p.injected.Load() }

// DeniedCount reports how many injection calls the gate refused.
func (p *Pipeline) DeniedCount() uint64 { return p.injectDenied.Load() }

// Run streams frames to w until ctx ends or the capture path fails
// permanently. It owns the writer for its lifetime.
func (p *Pipeline) Run(ctx context.Context, w io.Writer) error {
	encoder, err := NewFrameEncoder(w)
	if err != nil {
		return err
	}
	defer encoder.Close()

	// Capture and encode are decoupled by a bounded queue so a slow
	// network drops frames instead of stalling capture.
	type queuedFrame struct {
		frame       *Frame
		placeholder bool
	}
	queue := make(chan queuedFrame, p.config.QueueDepth)

	encodeDone := make(chan error, 1)
	encodeCtx, cancelEncode := context.WithCancel(ctx)
	defer cancelEncode()
	go func() {
		for {
			select {
			case <-encodeCtx.Done():
				encodeDone <- nil
				return
			case item := <-queue:
				if err := encoder.Encode(item.frame, item.placeholder); err != nil {
					encodeDone <- err
					return
				}
			}
		}
	}()

	lastStateCheck := time.Time{}
	state := DesktopNormal

	for {
		fps := int(p.targetFPS.Load())
		interval := time.Second / time.Duration(fps)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-encodeDone:
			return err
		case <-p.clock.After(interval):
		}

		now := p.clock.Now()
		if now.Sub(lastStateCheck) >= p.config.StatePollInterval {
			lastStateCheck = now
			next, err := p.backend.DesktopState()
			if err != nil {
				p.logger.Warn("desktop state check failed", "error", err)
			} else if next != state {
				p.logger.Info("desktop state changed", "from", state.String(), "to", next.String())
				state = next
			}
		}

		frame, placeholder, err := p.captureOnce(state, now)
		if err != nil {
			if errors.Is(err, ErrCaptureUnavailable) {
				return err
			}
			p.logger.Warn("frame capture failed", "error", err)
			continue
		}

		select {
		case queue <- queuedFrame{frame: frame, placeholder: placeholder}:
		default:
			// Queue full: drop the oldest so the stream stays current.
			select {
			case <-queue:
			default:
			}
			queue <- queuedFrame{frame: frame, placeholder: placeholder}
		}
	}
}

// captureOnce picks the frame source for the current desktop state.
// In a secure context the elevated source serves if bridging is
// granted; otherwise the viewer gets a placeholder telling them action
// is required on the machine itself. The stream never stops.
func (p *Pipeline) captureOnce(state DesktopState, now time.Time) (*Frame, bool, error) {
	if state == DesktopNormal {
		p.setPlaceholderShown(false)
		frame, err := p.backend.CaptureFrame()
		return frame, false, err
	}

	p.mu.Lock()
	useElevated := p.elevatedAllowed && p.elevated != nil
	p.mu.Unlock()

	if useElevated {
		p.setPlaceholderShown(false)
		frame, err := p.elevated.CaptureFrame()
		if err != nil {
			p.logger.Warn("elevated capture failed, serving placeholder", "error", err)
			return p.placeholderFrame(now), true, nil
		}
		return frame, false, nil
	}
	return p.placeholderFrame(now), true, nil
}

func (p *Pipeline) setPlaceholderShown(shown bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if shown && !p.placeholderShown {
		p.logger.Info("secure desktop without elevation grant, serving placeholder")
	}
	p.placeholderShown = shown
}

// placeholderFrame is a small dark frame; the viewer renders its own
// "action required on the remote machine" message over it using the
// Placeholder flag.
func (p *Pipeline) placeholderFrame(now time.Time) *Frame {
	const width, height = 64, 36
	return &Frame{
		Width:  width,
		Height: height,
		Stride: width * 4,
		Data:   make([]byte, width*height*4),
		At:     now,
	}
}

// InjectPointer applies a remote pointer move if the gate allows it.
// Coordinates arrive normalized to [0, PointerCoordMax]; out-of-range
// values from a hostile or buggy viewer are clamped to the edge.
func (p *Pipeline) InjectPointer(x, y int) error {
	if !p.allowInject("pointer") {
		return nil
	}
	p.injected.Add(1)
	return p.backend.InjectPointer(clampCoord(x), clampCoord(y))
}

func clampCoord(v int) int {
	if v < 0 {
		return 0
	}
	if v > PointerCoordMax {
		return PointerCoordMax
	}
	return v
}

// InjectButton applies a remote button event if the gate allows it.
func (p *Pipeline) InjectButton(button PointerButton, pressed bool) error {
	if !p.allowInject("button") {
		return nil
	}
	p.injected.Add(1)
	return p.backend.InjectButton(button, pressed)
}

// InjectKey applies a remote key event if the gate allows it.
func (p *Pipeline) InjectKey(code uint32, pressed bool) error {
	if !p.allowInject("key") {
		return nil
	}
	p.injected.Add(1)
	return p.backend.InjectKey(code, pressed)
}

func (p *Pipeline) allowInject(kind string) bool {
	if p.gate() {
		return true
	}
	p.injectDenied.Add(1)
	p.logger.Warn("input injection denied", "kind", kind)
	return false
}
