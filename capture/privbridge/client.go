// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package privbridge

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nine-minds/alga-remote/capture"
)

// requestTimeout bounds one frame round-trip to the helper.
const requestTimeout = 5 * time.Second

// Client is the agent side of the bridge. It implements
// capture.ElevatedSource so the pipeline can switch to it when the
// desktop goes secure, and surfaces the helper's desktop-state pushes.
type Client struct {
	conn   io.ReadWriteCloser
	logger *slog.Logger

	// writeMu serializes outbound messages; frames and injections can
	// race from different goroutines.
	writeMu sync.Mutex

	mu      sync.Mutex
	frameCh chan *capture.Frame
	stateCh chan bool
	closed  bool
	readErr error
}

// NewClient runs the hello exchange over an established connection and
// starts the read loop.
func NewClient(conn io.ReadWriteCloser, logger *slog.Logger) (*Client, error) {
	c := &Client{
		conn:    conn,
		logger:  logger,
		frameCh: make(chan *capture.Frame, 1),
		stateCh: make(chan bool, 4),
	}
	if err := WriteMessage(conn, &Message{Type: MsgHello, Hello: &Hello{Version: ProtocolVersion}}); err != nil {
		return nil, fmt.Errorf("privbridge: sending hello: %w", err)
	}
	ack, err := ReadMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("privbridge: reading hello-ack: %w", err)
	}
	if ack.Type != MsgHelloAck || ack.HelloAck == nil {
		return nil, fmt.Errorf("privbridge: expected hello-ack, got type %d", ack.Type)
	}
	if ack.HelloAck.Version != ProtocolVersion {
		return nil, fmt.Errorf("privbridge: helper speaks version %d, need %d", ack.HelloAck.Version, ProtocolVersion)
	}
	go c.readLoop()
	return c, nil
}

// DesktopStates returns the channel of secure-desktop transitions
// pushed by the helper.
func (c *Client) DesktopStates() <-chan bool { return c.stateCh }

// CaptureFrame requests one frame from the helper's privileged capture
// path. Implements capture.ElevatedSource.
func (c *Client) CaptureFrame() (*capture.Frame, error) {
	if err := c.write(&Message{Type: MsgStartCapture}); err != nil {
		return nil, err
	}
	select {
	case frame, ok := <-c.frameCh:
		if !ok {
			return nil, c.closeError()
		}
		return frame, nil
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("privbridge: frame request timed out")
	}
}

// InjectPointer forwards a pointer move to the helper.
func (c *Client) InjectPointer(x, y int) error {
	return c.write(&Message{Type: MsgInject, Inject: &Inject{Op: InjectPointer, X: x, Y: y}})
}

// InjectButton forwards a button event to the helper.
func (c *Client) InjectButton(button int, pressed bool) error {
	return c.write(&Message{Type: MsgInject, Inject: &Inject{Op: InjectButton, Button: button, Pressed: pressed}})
}

// InjectKey forwards a key event to the helper.
func (c *Client) InjectKey(code uint32, pressed bool) error {
	return c.write(&Message{Type: MsgInject, Inject: &Inject{Op: InjectKey, Code: code, Pressed: pressed}})
}

// Close stops the capture stream and tears down the connection.
func (c *Client) Close() error {
	c.write(&Message{Type: MsgStopCapture})
	return c.conn.Close()
}

func (c *Client) write(m *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteMessage(c.conn, m)
}

func (c *Client) readLoop() {
	for {
		m, err := ReadMessage(c.conn)
		if err != nil {
			c.mu.Lock()
			c.closed = true
			c.readErr = err
			c.mu.Unlock()
			close(c.frameCh)
			close(c.stateCh)
			return
		}
		switch m.Type {
		case MsgFrame:
			if m.Frame == nil {
				continue
			}
			frame := &capture.Frame{
				Width:  m.Frame.Width,
				Height: m.Frame.Height,
				Stride: m.Frame.Stride,
				Data:   m.Frame.Data,
				At:     time.UnixMilli(m.Frame.At),
			}
			// Keep only the newest frame if the pipeline is behind.
			select {
			case c.frameCh <- frame:
			default:
				select {
				case <-c.frameCh:
				default:
				}
				c.frameCh <- frame
			}
		case MsgDesktopState:
			if m.DesktopState == nil {
				continue
			}
			select {
			case c.stateCh <- m.DesktopState.Secure:
			default:
			}
		case MsgError:
			detail := ""
			if m.Error != nil {
				detail = m.Error.Detail
			}
			c.logger.Warn("privilege helper error", "detail", detail)
		default:
			c.logger.Warn("unexpected bridge message", "type", int(m.Type))
		}
	}
}

func (c *Client) closeError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return fmt.Errorf("privbridge: connection lost: %w", c.readErr)
	}
	return fmt.Errorf("privbridge: connection closed")
}
