package session

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/protocol"
)

// ConversationStartFunc handles session.initiate. A non-nil error is reported
// to the peer as session.error and closes the session.
type ConversationStartFunc func(ctx context.Context, msg protocol.Message) error

type observers struct {
	mu         sync.RWMutex
	start      []ConversationStartFunc
	userStream []func(*UserStream)
	activity   []func(protocol.Activity)
	end        []func(*protocol.Message)
	errs       []func(error)
}

// OnConversationStart registers an awaited observer. All observers run
// concurrently and the first error wins. ctx is the session's Context, so it
// stays valid after session.accepted and may be kept for later sends.
func (s *Session) OnConversationStart(fn ConversationStartFunc) {
	if fn == nil {
		return
	}
	s.observers.mu.Lock()
	defer s.observers.mu.Unlock()
	s.observers.start = append(s.observers.start, fn)
}

// OnUserStream is called on the session goroutine when the peer opens a user
// stream. Read the stream from another goroutine.
func (s *Session) OnUserStream(fn func(*UserStream)) {
	if fn == nil {
		return
	}
	s.observers.mu.Lock()
	defer s.observers.mu.Unlock()
	s.observers.userStream = append(s.observers.userStream, fn)
}

func (s *Session) OnActivity(fn func(protocol.Activity)) {
	if fn == nil {
		return
	}
	s.observers.mu.Lock()
	defer s.observers.mu.Unlock()
	s.observers.activity = append(s.observers.activity, fn)
}

// OnEnd is called once when the session ends. msg is the session.end message
// that caused it, or nil.
func (s *Session) OnEnd(fn func(msg *protocol.Message)) {
	if fn == nil {
		return
	}
	s.observers.mu.Lock()
	defer s.observers.mu.Unlock()
	s.observers.end = append(s.observers.end, fn)
}

// OnError receives send failures.
func (s *Session) OnError(fn func(error)) {
	if fn == nil {
		return
	}
	s.observers.mu.Lock()
	defer s.observers.mu.Unlock()
	s.observers.errs = append(s.observers.errs, fn)
}

func (o *observers) notifyConversationStart(ctx context.Context, msg protocol.Message) error {
	o.mu.RLock()
	fns := slices.Clone(o.start)
	o.mu.RUnlock()
	if len(fns) == 0 {
		return nil
	}

	var g errgroup.Group
	for _, fn := range fns {
		g.Go(func() (err error) {
			defer func() {
				if v := recover(); v != nil {
					err = fmt.Errorf("panic: %v", v)
				}
			}()
			return fn(ctx, msg)
		})
	}
	return g.Wait()
}

func (o *observers) emitUserStream(stream *UserStream) {
	o.mu.RLock()
	fns := slices.Clone(o.userStream)
	o.mu.RUnlock()
	for _, fn := range fns {
		fn(stream)
	}
}

func (o *observers) emitActivity(activity protocol.Activity) {
	o.mu.RLock()
	fns := slices.Clone(o.activity)
	o.mu.RUnlock()
	for _, fn := range fns {
		fn(activity)
	}
}

func (o *observers) emitEnd(msg *protocol.Message) {
	o.mu.RLock()
	fns := slices.Clone(o.end)
	o.mu.RUnlock()
	for _, fn := range fns {
		fn(msg)
	}
}

func (o *observers) emitError(err error) {
	o.mu.RLock()
	fns := slices.Clone(o.errs)
	o.mu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}
