package ws

import (
	"log"

	"github.com/roamly/travel-app/internal/metrics"
	"github.com/roamly/travel-app/internal/protocol"
)

// FrameHandler is the callback signature for handling a parsed client
// frame. The frame parameter is the concrete struct returned by
// protocol.ParseClientFrame (protocol.SendMessageFrame, protocol.TypingFrame, ...).
type FrameHandler func(conn *Connection, frame interface{})

// Dispatcher routes inbound frames to registered handlers by frame type.
// Heartbeat frames are absorbed here: the server already refreshed the
// presence lease before dispatch, so there is nothing left to do. Malformed
// frames produce an error frame and leave the connection open; the optional
// violation callback lets the application count them toward an abuse
// threshold.
type Dispatcher struct {
	handlers    map[string]FrameHandler
	onViolation func(conn *Connection)
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]FrameHandler)}
}

// Register associates a handler with a frame type, replacing any previous
// handler for that type.
func (d *Dispatcher) Register(frameType string, handler FrameHandler) {
	d.handlers[frameType] = handler
}

// SetOnViolation registers the callback invoked for each malformed or
// unsupported frame.
func (d *Dispatcher) SetOnViolation(fn func(conn *Connection)) {
	d.onViolation = fn
}

// Dispatch is the server's onFrame callback. It parses the raw bytes into a
// typed frame and routes it.
func (d *Dispatcher) Dispatch(conn *Connection, data []byte) {
	frameType, frame, err := d.parse(conn, data)
	if err != nil {
		return
	}

	metrics.FramesTotal.WithLabelValues(frameType).Inc()

	if frameType == protocol.TypeHeartbeat {
		return
	}

	handler, ok := d.handlers[frameType]
	if !ok {
		log.Printf("ws: unsupported frame type=%q conn=%s", frameType, conn.ID)
		d.violation(conn, "unsupported_type", "unsupported frame type")
		return
	}

	handler(conn, frame)
}

func (d *Dispatcher) parse(conn *Connection, data []byte) (string, interface{}, error) {
	frameType, frame, err := protocol.ParseClientFrame(data)
	if err != nil {
		log.Printf("ws: dispatch parse error conn=%s: %v", conn.ID, err)
		metrics.FramesTotal.WithLabelValues("invalid").Inc()
		d.violation(conn, "parse_error", "invalid frame format")
		return "", nil, err
	}
	return frameType, frame, nil
}

// violation sends an error frame and reports the violation. Send failures
// are logged only; the read path notices a truly dead connection.
func (d *Dispatcher) violation(conn *Connection, code, message string) {
	SendError(conn, code, message)
	if d.onViolation != nil {
		d.onViolation(conn)
	}
}

// SendError writes a structured error frame to the connection.
func SendError(conn *Connection, code, message string) {
	data, err := protocol.NewServerFrame(protocol.TypeError, protocol.ErrorFrame{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("ws: failed to build error frame conn=%s: %v", conn.ID, err)
		return
	}
	if err := conn.WriteFrame(data); err != nil {
		log.Printf("ws: failed to send error frame conn=%s: %v", conn.ID, err)
	}
}
