package session

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/protocol"
)

type recordedWrite struct {
	messageType int
	data        string
}

type fakeFrame struct {
	messageType int
	data        []byte
	err         error
}

// fakeConn stands in for a websocket connection. Inbound frames are pushed
// with push; reads return io.EOF once the connection is closed.
type fakeConn struct {
	mu               sync.Mutex
	writes           []recordedWrite
	controls         []int
	closeCalls       int
	writesAfterClose int
	writeErr         func(data []byte) error

	inbound   chan fakeFrame
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan fakeFrame, 32),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-f.inbound:
		return frame.messageType, frame.data, frame.err
	case <-f.closed:
		return 0, nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeCalls > 0 {
		f.writesAfterClose++
	}
	if f.writeErr != nil {
		if err := f.writeErr(data); err != nil {
			return err
		}
	}
	f.writes = append(f.writes, recordedWrite{messageType: messageType, data: string(data)})
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, messageType)
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(data string) {
	f.inbound <- fakeFrame{messageType: websocket.TextMessage, data: []byte(data)}
}

func (f *fakeConn) setWriteErr(fn func(data []byte) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = fn
}

func (f *fakeConn) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func (f *fakeConn) lateWrites() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writesAfterClose
}

func (f *fakeConn) messages(t *testing.T) []protocol.Message {
	t.Helper()
	f.mu.Lock()
	writes := make([]recordedWrite, len(f.writes))
	copy(writes, f.writes)
	f.mu.Unlock()

	out := make([]protocol.Message, 0, len(writes))
	for _, w := range writes {
		var msg protocol.Message
		if err := json.Unmarshal([]byte(w.data), &msg); err != nil {
			t.Fatalf("unmarshal write %q: %v", w.data, err)
		}
		out = append(out, msg)
	}
	return out
}

func (f *fakeConn) waitForMessages(t *testing.T, n int) []protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs := f.messages(t)
		if len(msgs) >= n {
			return msgs
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d messages; got %d: %+v", n, len(msgs), msgs)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func messagesOfType(msgs []protocol.Message, typ protocol.MessageType) []protocol.Message {
	var out []protocol.Message
	for _, msg := range msgs {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

func newTestSession(t *testing.T, cfg Config) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	if cfg.PingInterval == 0 {
		cfg.PingInterval = time.Hour
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = time.Second
	}
	s, err := New(Dependencies{
		Conn:   conn,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: cfg,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(s.Close)
	return s, conn
}

func initiate(t *testing.T, s *Session, id string) {
	t.Helper()
	s.HandleMessage(t.Context(), []byte(`{"type":"session.initiate","conversationId":"`+id+`"}`))
	if got := s.State(); got != StateActive {
		t.Fatalf("state=%s after initiate, want active", got)
	}
}
