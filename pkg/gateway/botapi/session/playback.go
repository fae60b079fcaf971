package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/protocol"
	"github.com/vango-go/vai-botapi/pkg/gateway/metrics"
)

type PlayAudioOptions struct {
	AltText        string
	ActivityParams map[string]any
	// MediaFormat overrides the session format for this stream.
	MediaFormat protocol.MediaFormat
}

// PlayStream is one outbound audio stream.
type PlayStream struct {
	id   string
	done chan struct{}

	mu    sync.Mutex
	ended bool
	err   error
}

func (p *PlayStream) ID() string {
	return p.id
}

// Done is closed when the source has been fully consumed.
func (p *PlayStream) Done() <-chan struct{} {
	return p.done
}

// Ended reports whether no further chunks will be sent.
func (p *PlayStream) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

// Err returns the first failure that cut the stream short, if any.
func (p *PlayStream) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Wait blocks until the stream is done or ctx ends.
func (p *PlayStream) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PlayStream) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended = true
	if p.err == nil {
		p.err = err
	}
}

func (p *PlayStream) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended = true
}

func (s *Session) nextPlayStreamID() string {
	n := s.playSeq.Add(1) - 1
	return fmt.Sprintf("play-%d", n)
}

// PlayAudio streams src to the peer as playStream.start, one playStream.chunk
// per Read and playStream.stop at io.EOF. The start message is sent before
// PlayAudio returns; ctx only bounds that send. Chunks are sent from a
// separate goroutine. After a chunk fails the rest of src is read and
// discarded.
func (s *Session) PlayAudio(ctx context.Context, src io.Reader, opts PlayAudioOptions) (*PlayStream, error) {
	if src == nil {
		return nil, fmt.Errorf("audio source is required")
	}
	if s.Ended() {
		return nil, ErrSessionEnded
	}
	if s.playSem != nil && !s.playSem.TryAcquire(1) {
		return nil, ErrTooManyPlayStreams
	}

	ps := &PlayStream{id: s.nextPlayStreamID(), done: make(chan struct{})}
	start := protocol.Message{
		MediaFormat:    s.MediaFormat(),
		StreamID:       ps.id,
		AltText:        opts.AltText,
		ActivityParams: opts.ActivityParams,
	}
	if opts.MediaFormat != "" {
		start.MediaFormat = opts.MediaFormat
	}
	if err := s.Send(ctx, protocol.PlayStreamStart, start); err != nil {
		s.releasePlaySlot()
		return nil, err
	}

	s.metrics.RecordPlayStreamStart()
	go s.streamPlayAudio(ps, src)
	return ps, nil
}

func (s *Session) releasePlaySlot() {
	if s.playSem != nil {
		s.playSem.Release(1)
	}
}

func (s *Session) streamPlayAudio(ps *PlayStream, src io.Reader) {
	defer close(ps.done)
	defer s.releasePlaySlot()
	defer s.metrics.RecordPlayStreamEnd()

	buf := make([]byte, s.cfg.PlayChunkBytes)
	for {
		n, err := src.Read(buf)
		if n > 0 && !ps.Ended() {
			chunk := protocol.Message{
				StreamID:   ps.id,
				AudioChunk: base64.StdEncoding.EncodeToString(buf[:n]),
			}
			if sendErr := s.Send(s.ctx, protocol.PlayStreamChunk, chunk); sendErr != nil {
				ps.fail(sendErr)
			} else {
				s.metrics.RecordAudio(metrics.DirectionOutbound, n)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.log().Warn("play stream source failed", "stream_id", ps.id, "error", err)
			ps.fail(fmt.Errorf("read play source: %w", err))
			return
		}
	}

	if err := s.Send(s.ctx, protocol.PlayStreamStop, protocol.Message{StreamID: ps.id}); err != nil {
		ps.fail(err)
		return
	}
	ps.finish()
}
