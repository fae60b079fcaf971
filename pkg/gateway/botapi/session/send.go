package session

import (
	"context"
	"fmt"

	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/protocol"
	"github.com/vango-go/vai-botapi/pkg/gateway/metrics"
)

// SendError reports a message that could not be written to the peer.
type SendError struct {
	Type protocol.MessageType
	Err  error
}

func (e *SendError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("send %s: %v", e.Type, e.Err)
}

func (e *SendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Send writes one message and waits until the writer has flushed it. Sending
// on an ended session is a no-op. Failures are returned as *SendError and also
// passed to OnError observers.
func (s *Session) Send(ctx context.Context, typ protocol.MessageType, payload protocol.Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	payload.Type = typ
	if s.Ended() {
		s.log().Debug("dropping message for ended session", "type", typ)
		return nil
	}
	s.log().Debug("sending bot message", "message", payload)

	if !s.writable.Load() {
		return s.sendFailed(typ, ErrNotWritable)
	}
	data, err := protocol.Encode(typ, payload)
	if err != nil {
		return s.sendFailed(typ, err)
	}

	frame := outboundFrame{typ: typ, payload: data, done: make(chan error, 1)}
	lane := s.outboundNormal
	if isPriority(typ) {
		lane = s.outboundPriority
	}

	select {
	case lane <- frame:
	case <-s.writerDone:
		return s.sendAborted(typ, frame)
	case <-ctx.Done():
		return s.sendFailed(typ, ctx.Err())
	}

	select {
	case err := <-frame.done:
		return s.sendFinished(typ, err)
	case <-s.writerDone:
		return s.sendAborted(typ, frame)
	case <-ctx.Done():
		return s.sendFailed(typ, ctx.Err())
	}
}

func (s *Session) sendFinished(typ protocol.MessageType, err error) error {
	if err != nil {
		s.writable.Store(false)
		return s.sendFailed(typ, err)
	}
	s.metrics.RecordMessage(metrics.DirectionOutbound, string(typ))
	return nil
}

// sendAborted resolves a frame whose writer stopped before acknowledging it.
func (s *Session) sendAborted(typ protocol.MessageType, frame outboundFrame) error {
	select {
	case err := <-frame.done:
		return s.sendFinished(typ, err)
	default:
	}
	if s.Ended() {
		return nil
	}
	return s.sendFailed(typ, ErrNotWritable)
}

func (s *Session) sendFailed(typ protocol.MessageType, err error) error {
	sendErr := &SendError{Type: typ, Err: err}
	s.log().Warn("bot message send failed", "type", typ, "error", err)
	s.metrics.RecordSendError(string(typ))
	s.observers.emitError(sendErr)
	return sendErr
}
