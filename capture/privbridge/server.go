// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package privbridge

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/nine-minds/alga-remote/capture"
)

// Server is the elevated helper side of the bridge: it answers the
// hello, serves frame requests from its privileged capture backend,
// applies forwarded input, and pushes desktop-state transitions.
type Server struct {
	backend capture.Backend
	logger  *slog.Logger

	writeMu sync.Mutex
}

// NewServer wraps an opened backend.
func NewServer(backend capture.Backend, logger *slog.Logger) *Server {
	return &Server{backend: backend, logger: logger}
}

// Serve handles one agent connection until it drops. The helper
// process runs exactly one connection at a time; the agent reconnects
// after a helper restart.
func (s *Server) Serve(conn io.ReadWriteCloser) error {
	defer conn.Close()

	hello, err := ReadMessage(conn)
	if err != nil {
		return fmt.Errorf("privbridge: reading hello: %w", err)
	}
	if hello.Type != MsgHello || hello.Hello == nil {
		return fmt.Errorf("privbridge: expected hello, got type %d", hello.Type)
	}
	if hello.Hello.Version != ProtocolVersion {
		s.writeTo(conn, &Message{Type: MsgError, Error: &Error{
			Detail: fmt.Sprintf("version %d unsupported", hello.Hello.Version),
		}})
		return fmt.Errorf("privbridge: agent speaks version %d, need %d", hello.Hello.Version, ProtocolVersion)
	}
	if err := s.writeTo(conn, &Message{Type: MsgHelloAck, HelloAck: &HelloAck{Version: ProtocolVersion}}); err != nil {
		return fmt.Errorf("privbridge: sending hello-ack: %w", err)
	}

	for {
		m, err := ReadMessage(conn)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		switch m.Type {
		case MsgStartCapture:
			s.serveFrame(conn)
		case MsgStopCapture:
			// Nothing held between frames; acknowledged by silence.
		case MsgInject:
			s.applyInject(conn, m.Inject)
		default:
			s.writeTo(conn, &Message{Type: MsgError, Error: &Error{
				Detail: fmt.Sprintf("unexpected message type %d", m.Type),
			}})
		}
	}
}

// PushDesktopState notifies the agent of a secure-desktop transition.
func (s *Server) PushDesktopState(conn io.Writer, secure bool) error {
	return s.writeTo(conn, &Message{Type: MsgDesktopState, DesktopState: &DesktopState{Secure: secure}})
}

func (s *Server) serveFrame(conn io.Writer) {
	frame, err := s.backend.CaptureFrame()
	if err != nil {
		s.logger.Warn("privileged capture failed", "error", err)
		s.writeTo(conn, &Message{Type: MsgError, Error: &Error{Detail: err.Error()}})
		return
	}
	s.writeTo(conn, &Message{Type: MsgFrame, Frame: &FramePayload{
		Width:  frame.Width,
		Height: frame.Height,
		Stride: frame.Stride,
		Data:   frame.Data,
		At:     frame.At.UnixMilli(),
	}})
}

func (s *Server) applyInject(conn io.Writer, inject *Inject) {
	if inject == nil {
		return
	}
	var err error
	switch inject.Op {
	case InjectPointer:
		err = s.backend.InjectPointer(inject.X, inject.Y)
	case InjectButton:
		err = s.backend.InjectButton(capture.PointerButton(inject.Button), inject.Pressed)
	case InjectKey:
		err = s.backend.InjectKey(inject.Code, inject.Pressed)
	default:
		err = fmt.Errorf("unknown inject op %q", inject.Op)
	}
	if err != nil {
		s.logger.Warn("privileged injection failed", "op", inject.Op, "error", err)
		s.writeTo(conn, &Message{Type: MsgError, Error: &Error{Detail: err.Error()}})
	}
}

func (s *Server) writeTo(conn io.Writer, m *Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteMessage(conn, m)
}
