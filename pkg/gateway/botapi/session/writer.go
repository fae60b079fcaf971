package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/protocol"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// outboundFrame is one encoded message. done receives the write result and
// must be buffered.
type outboundFrame struct {
	typ     protocol.MessageType
	payload []byte
	done    chan error
}

func (f outboundFrame) finish(err error) {
	if f.done == nil {
		return
	}
	select {
	case f.done <- err:
	default:
	}
}

// outboundWriter is the only goroutine that writes to the connection.
type outboundWriter struct {
	ws       wsWriter
	ctx      context.Context
	cfg      Config
	priority <-chan outboundFrame
	normal   <-chan outboundFrame
}

// Run writes frames until ctx is done or a write fails. Session lifecycle
// replies on the priority lane are written before queued normal frames.
func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.flushPriorityOnShutdown(writeTimeout)
			_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			return nil
		default:
		}

		// Hard priority: if anything is queued, handle it before writing normal frames.
		select {
		case frame := <-w.priority:
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-w.ctx.Done():
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		case frame := <-w.priority:
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return err
			}
		case frame := <-w.normal:
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				return err
			}
		}
	}
}

func (w *outboundWriter) flushPriorityOnShutdown(writeTimeout time.Duration) {
	if w == nil || w.ws == nil || w.priority == nil {
		return
	}

	flushTimeout := 100 * time.Millisecond
	if writeTimeout > 0 && writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}

	deadline := time.Now().Add(flushTimeout)
	maxFlushFrames := 8

	for i := 0; i < maxFlushFrames && time.Now().Before(deadline); i++ {
		select {
		case frame := <-w.priority:
			_ = w.writeFrame(frame, writeTimeout)
		default:
			return
		}
	}
}

func (w *outboundWriter) writeFrame(frame outboundFrame, writeTimeout time.Duration) error {
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		frame.finish(err)
		return err
	}
	err := w.ws.WriteMessage(websocket.TextMessage, frame.payload)
	frame.finish(err)
	return err
}

func isPriority(typ protocol.MessageType) bool {
	switch typ {
	case protocol.SessionAccepted, protocol.SessionError, protocol.UserStreamStarted, protocol.UserStreamStopped:
		return true
	default:
		return false
	}
}
