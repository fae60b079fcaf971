package session

import (
	"bytes"
	"io"
	"sync"

	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/protocol"
)

// UserStream carries the caller audio of one userStream.start/stop span.
// Writes from the session never block; the buffer grows until the reader
// catches up. Read returns io.EOF after userStream.stop or session end.
type UserStream struct {
	// Message is the userStream.start message that opened the stream.
	Message protocol.Message

	mu           sync.Mutex
	cond         *sync.Cond
	buf          bytes.Buffer
	finished     bool
	readerClosed bool
	received     int64
}

func newUserStream(msg protocol.Message) *UserStream {
	u := &UserStream{Message: msg}
	u.cond = sync.NewCond(&u.mu)
	return u
}

func (u *UserStream) Participant() string {
	return u.Message.Participant
}

func (u *UserStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for u.buf.Len() == 0 && !u.finished && !u.readerClosed {
		u.cond.Wait()
	}
	if u.readerClosed {
		return 0, io.ErrClosedPipe
	}
	if u.buf.Len() == 0 {
		return 0, io.EOF
	}
	return u.buf.Read(p)
}

// Close discards buffered and future audio. Pending reads return
// io.ErrClosedPipe.
func (u *UserStream) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.readerClosed = true
	u.buf.Reset()
	u.cond.Broadcast()
	return nil
}

// Finished reports whether the peer stopped the stream or the session ended.
func (u *UserStream) Finished() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.finished
}

// BytesReceived is the total decoded audio written to the stream.
func (u *UserStream) BytesReceived() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.received
}

func (u *UserStream) write(p []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finished || u.readerClosed {
		return
	}
	u.buf.Write(p)
	u.received += int64(len(p))
	u.cond.Broadcast()
}

func (u *UserStream) finish() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finished {
		return
	}
	u.finished = true
	u.cond.Broadcast()
}
