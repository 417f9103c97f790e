// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nine-minds/alga-remote/lib/clock"
	"github.com/nine-minds/alga-remote/lib/testutil"
)

const runTimeout = 5 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// frameInterval matches a pipeline configured with TargetFPS 10.
const frameInterval = 100 * time.Millisecond

// startPipeline runs the pipeline against a pipe and returns a decoder
// for its output plus the Run error channel.
func startPipeline(t *testing.T, p *Pipeline) (*FrameDecoder, chan error, context.CancelFunc) {
	t.Helper()
	reader, writer := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- p.Run(ctx, writer)
		writer.Close()
	}()
	decoder, err := NewFrameDecoder(reader)
	if err != nil {
		t.Fatalf("NewFrameDecoder: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		reader.Close()
		decoder.Close()
	})
	return decoder, runErr, cancel
}

func TestPipelineStreamsFrames(t *testing.T) {
	t.Parallel()
	clk := clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	backend := NewFakeBackend(8, 4)
	p := NewPipeline(backend, nil, func() bool { return true }, clk, discardLogger(), PipelineConfig{TargetFPS: 10})

	decoder, _, _ := startPipeline(t, p)

	for want := byte(1); want <= 2; want++ {
		clk.WaitForTimers(1)
		clk.Advance(frameInterval)

		record, err := decoder.Decode()
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if record.Width != 8 || record.Height != 4 || record.Stride != 32 {
			t.Fatalf("frame geometry = %dx%d stride %d, want 8x4 stride 32", record.Width, record.Height, record.Stride)
		}
		if record.PixelFormat != PixelFormatBGRA {
			t.Errorf("pixel format = %q, want %q", record.PixelFormat, PixelFormatBGRA)
		}
		if record.Placeholder {
			t.Error("normal desktop frame flagged as placeholder")
		}
		if len(record.Data) != 8*4*4 {
			t.Fatalf("pixel data = %d bytes, want %d", len(record.Data), 8*4*4)
		}
		for i, b := range record.Data {
			if b != want {
				t.Fatalf("frame %d pixel byte %d = %d, want %d", want, i, b, want)
			}
		}
	}
}

func TestPipelineSkipsTransientCaptureErrors(t *testing.T) {
	t.Parallel()
	clk := clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	backend := NewFakeBackend(8, 4)
	p := NewPipeline(backend, nil, func() bool { return true }, clk, discardLogger(), PipelineConfig{TargetFPS: 10})

	backend.FailCapture(errors.New("temporarily unreadable"))
	decoder, _, _ := startPipeline(t, p)

	clk.WaitForTimers(1)
	clk.Advance(frameInterval)

	// The failed tick produced nothing; the next one streams normally.
	backend.FailCapture(nil)
	clk.WaitForTimers(1)
	clk.Advance(frameInterval)

	record, err := decoder.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if record.Seq != 1 {
		t.Errorf("first delivered seq = %d, want 1", record.Seq)
	}
}

func TestPipelineCaptureUnavailableEndsRun(t *testing.T) {
	t.Parallel()
	clk := clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	backend := NewFakeBackend(8, 4)
	p := NewPipeline(backend, nil, func() bool { return true }, clk, discardLogger(), PipelineConfig{TargetFPS: 10})
	backend.FailCapture(ErrCaptureUnavailable)

	runErr := make(chan error, 1)
	go func() {
		runErr <- p.Run(context.Background(), io.Discard)
	}()

	clk.WaitForTimers(1)
	clk.Advance(frameInterval)

	err := testutil.RequireReceive(t, runErr, runTimeout, "waiting for Run to fail")
	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Fatalf("Run error = %v, want %v", err, ErrCaptureUnavailable)
	}
}

// fakeElevated serves fixed 16x9 frames, standing in for the privilege
// bridge client.
type fakeElevated struct {
	mu       sync.Mutex
	err      error
	captures int
}

func (f *fakeElevated) CaptureFrame() (*Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.captures++
	return &Frame{
		Width:  16,
		Height: 9,
		Stride: 64,
		Data:   make([]byte, 16*9*4),
		At:     time.Now(),
	}, nil
}

func TestPipelineSecureDesktopHandoff(t *testing.T) {
	t.Parallel()
	clk := clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	backend := NewFakeBackend(8, 4)
	backend.SetDesktopState(DesktopSecure)
	elevated := &fakeElevated{}
	p := NewPipeline(backend, elevated, func() bool { return true }, clk, discardLogger(), PipelineConfig{TargetFPS: 10})

	decoder, _, _ := startPipeline(t, p)

	// Without an elevation grant, the secure desktop yields a
	// placeholder; the stream never stops.
	clk.WaitForTimers(1)
	clk.Advance(frameInterval)
	record, err := decoder.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !record.Placeholder {
		t.Fatal("secure desktop without grant should serve a placeholder")
	}

	// Granting elevation switches the source to the bridge.
	p.AllowElevated(true)
	clk.WaitForTimers(1)
	clk.Advance(frameInterval)
	record, err = decoder.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if record.Placeholder {
		t.Fatal("elevated frame flagged as placeholder")
	}
	if record.Width != 16 || record.Height != 9 {
		t.Errorf("elevated frame = %dx%d, want 16x9", record.Width, record.Height)
	}

	// A failing bridge degrades back to the placeholder instead of
	// killing the stream.
	elevated.mu.Lock()
	elevated.err = errors.New("helper went away")
	elevated.mu.Unlock()
	clk.WaitForTimers(1)
	clk.Advance(frameInterval)
	record, err = decoder.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !record.Placeholder {
		t.Fatal("failed elevated capture should fall back to placeholder")
	}
}

func TestPipelineInjectionGate(t *testing.T) {
	t.Parallel()
	clk := clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	backend := NewFakeBackend(8, 4)
	var allowed bool
	var mu sync.Mutex
	gate := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return allowed
	}
	p := NewPipeline(backend, nil, gate, clk, discardLogger(), PipelineConfig{})

	p.InjectPointer(10, 20)
	p.InjectButton(ButtonLeft, true)
	p.InjectKey(0x1c, true)
	if p.DeniedCount() != 3 {
		t.Fatalf("denied count = %d, want 3", p.DeniedCount())
	}
	if p.InjectedCount() != 0 || len(backend.PointerMoves) != 0 {
		t.Fatal("gated injection reached the backend")
	}

	mu.Lock()
	allowed = true
	mu.Unlock()
	p.InjectPointer(10, 20)
	p.InjectButton(ButtonLeft, true)
	p.InjectButton(ButtonLeft, false)
	p.InjectKey(0x1c, false)
	if p.InjectedCount() != 4 {
		t.Fatalf("injected count = %d, want 4", p.InjectedCount())
	}
	if len(backend.PointerMoves) != 1 || backend.PointerMoves[0] != [2]int{10, 20} {
		t.Errorf("pointer moves = %v, want [[10 20]]", backend.PointerMoves)
	}
	if len(backend.ButtonEvents) != 2 || !backend.ButtonEvents[0].Pressed || backend.ButtonEvents[1].Pressed {
		t.Errorf("button events = %v, want press then release", backend.ButtonEvents)
	}
	if len(backend.KeyEvents) != 1 || backend.KeyEvents[0].Code != 0x1c {
		t.Errorf("key events = %v, want one release of 0x1c", backend.KeyEvents)
	}
}

func TestInjectPointerClampsToCoordinateSpace(t *testing.T) {
	t.Parallel()
	clk := clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	backend := NewFakeBackend(8, 4)
	p := NewPipeline(backend, nil, func() bool { return true }, clk, discardLogger(), PipelineConfig{})

	p.InjectPointer(-50, PointerCoordMax+100)
	p.InjectPointer(1000, 2000)

	want := [][2]int{{0, PointerCoordMax}, {1000, 2000}}
	if len(backend.PointerMoves) != 2 {
		t.Fatalf("pointer moves = %d, want 2", len(backend.PointerMoves))
	}
	for i, move := range want {
		if backend.PointerMoves[i] != move {
			t.Errorf("move %d = %v, want %v", i, backend.PointerMoves[i], move)
		}
	}
}

func TestSetTargetFPSClamped(t *testing.T) {
	t.Parallel()
	clk := clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	p := NewPipeline(NewFakeBackend(8, 4), nil, func() bool { return false }, clk, discardLogger(),
		PipelineConfig{TargetFPS: 30, MinFPS: 5})

	p.SetTargetFPS(1000)
	if got := p.targetFPS.Load(); got != 30 {
		t.Errorf("clamped fps = %d, want 30", got)
	}
	p.SetTargetFPS(0)
	if got := p.targetFPS.Load(); got != 5 {
		t.Errorf("clamped fps = %d, want 5", got)
	}
	p.SetTargetFPS(12)
	if got := p.targetFPS.Load(); got != 12 {
		t.Errorf("in-range fps = %d, want 12", got)
	}
}

func TestFrameCodecRoundTrip(t *testing.T) {
	t.Parallel()
	var buffer bytes.Buffer
	encoder, err := NewFrameEncoder(&buffer)
	if err != nil {
		t.Fatalf("NewFrameEncoder: %v", err)
	}
	defer encoder.Close()

	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	pixels := make([]byte, 8*4*4)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	frame := &Frame{Width: 8, Height: 4, Stride: 32, Data: pixels, At: at}
	if err := encoder.Encode(frame, false); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := encoder.Encode(frame, true); err != nil {
		t.Fatalf("Encode placeholder: %v", err)
	}

	decoder, err := NewFrameDecoder(&buffer)
	if err != nil {
		t.Fatalf("NewFrameDecoder: %v", err)
	}
	defer decoder.Close()

	first, err := decoder.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if first.Seq != 1 || first.Placeholder {
		t.Errorf("first record = (seq %d, placeholder %v), want (1, false)", first.Seq, first.Placeholder)
	}
	if !bytes.Equal(first.Data, pixels) {
		t.Error("decompressed pixels differ from input")
	}
	if first.CapturedAt != at.UnixMilli() {
		t.Errorf("captured at = %d, want %d", first.CapturedAt, at.UnixMilli())
	}

	second, err := decoder.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if second.Seq != 2 || !second.Placeholder {
		t.Errorf("second record = (seq %d, placeholder %v), want (2, true)", second.Seq, second.Placeholder)
	}

	if _, err := decoder.Decode(); err != io.EOF {
		t.Errorf("read past end error = %v, want %v", err, io.EOF)
	}
}

func TestFrameDecoderRejectsOversizeRecord(t *testing.T) {
	t.Parallel()
	decoder, err := NewFrameDecoder(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
	if err != nil {
		t.Fatalf("NewFrameDecoder: %v", err)
	}
	defer decoder.Close()
	if _, err := decoder.Decode(); err == nil {
		t.Fatal("Decode accepted an absurd length prefix")
	}
}
