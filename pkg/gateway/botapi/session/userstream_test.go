package session

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/protocol"
)

func TestUserStream_ReadBlocksUntilWrite(t *testing.T) {
	u := newUserStream(protocol.Message{Type: protocol.UserStreamStart})

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 8)
		n, _ := u.Read(buf)
		got <- buf[:n]
	}()

	select {
	case <-got:
		t.Fatalf("Read returned before any audio was written")
	case <-time.After(20 * time.Millisecond):
	}

	u.write([]byte{1, 2, 3})
	select {
	case b := <-got:
		if len(b) != 3 {
			t.Fatalf("read %v", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Read did not wake up")
	}
}

func TestUserStream_FinishDrainsThenEOF(t *testing.T) {
	u := newUserStream(protocol.Message{})
	u.write([]byte("ab"))
	u.finish()
	u.write([]byte("ignored"))

	got, err := io.ReadAll(u)
	if err != nil || string(got) != "ab" {
		t.Fatalf("ReadAll=%q err=%v", got, err)
	}
	if !u.Finished() || u.BytesReceived() != 2 {
		t.Fatalf("finished=%v received=%d", u.Finished(), u.BytesReceived())
	}
}

func TestUserStream_CloseUnblocksReader(t *testing.T) {
	u := newUserStream(protocol.Message{})

	errCh := make(chan error, 1)
	go func() {
		_, err := u.Read(make([]byte, 4))
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	_ = u.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, io.ErrClosedPipe) {
			t.Fatalf("Read error=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Read not unblocked by Close")
	}
}
