// Package sessions tracks the live bot connections of one server so shutdown
// can drain them and close the ones that outlive the grace period.
package sessions

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// Handle is how the tracker reaches a live connection.
type Handle struct {
	// ConversationID reports the peer's conversation id, empty before
	// session.initiate.
	ConversationID func() string
	Close          func()
}

// Conversation identifies one tracked connection.
type Conversation struct {
	ConnectionID   string
	ConversationID string
}

type Tracker struct {
	mu    sync.Mutex
	conns map[string]*entry
	// idle is closed whenever no connection is registered.
	idle chan struct{}
}

type entry struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	t := &Tracker{conns: make(map[string]*entry)}
	t.idle = make(chan struct{})
	close(t.idle)
	return t
}

// Register tracks a connection until the returned func is called. A second
// registration under the same connection id replaces the first.
func (t *Tracker) Register(connectionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}
	e := &entry{handle: h}

	t.mu.Lock()
	t.lazyInit()
	if len(t.conns) == 0 {
		t.idle = make(chan struct{})
	}
	t.conns[connectionID] = e
	t.mu.Unlock()

	return func() {
		e.once.Do(func() { t.remove(connectionID, e) })
	}
}

func (t *Tracker) lazyInit() {
	if t.conns == nil {
		t.conns = make(map[string]*entry)
	}
	if t.idle == nil {
		t.idle = make(chan struct{})
		close(t.idle)
	}
}

func (t *Tracker) remove(connectionID string, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[connectionID] != e {
		return
	}
	delete(t.conns, connectionID)
	if len(t.conns) == 0 {
		close(t.idle)
	}
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Conversations lists the tracked connections ordered by connection id.
func (t *Tracker) Conversations() []Conversation {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	out := make([]Conversation, 0, len(t.conns))
	for id, e := range t.conns {
		out = append(out, Conversation{ConnectionID: id, ConversationID: conversationID(e.handle)})
	}
	t.mu.Unlock()
	sortConversations(out)
	return out
}

// CloseAll closes every tracked connection that has a Close func and returns
// the ones it closed.
func (t *Tracker) CloseAll() []Conversation {
	if t == nil {
		return nil
	}

	type target struct {
		conv  Conversation
		close func()
	}
	var targets []target
	t.mu.Lock()
	for id, e := range t.conns {
		if e.handle.Close == nil {
			continue
		}
		targets = append(targets, target{
			conv:  Conversation{ConnectionID: id, ConversationID: conversationID(e.handle)},
			close: e.handle.Close,
		})
	}
	t.mu.Unlock()

	closed := make([]Conversation, 0, len(targets))
	for _, tg := range targets {
		tg.close()
		closed = append(closed, tg.conv)
	}
	sortConversations(closed)
	return closed
}

// Wait blocks until no connection is registered or ctx is done, and reports
// whether the tracker drained.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		t.mu.Lock()
		t.lazyInit()
		idle := t.idle
		t.mu.Unlock()

		select {
		case <-idle:
			// A registration may have raced the wakeup.
			if t.Count() == 0 {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
}

func conversationID(h Handle) string {
	if h.ConversationID == nil {
		return ""
	}
	return h.ConversationID()
}

func sortConversations(cs []Conversation) {
	slices.SortFunc(cs, func(a, b Conversation) int {
		return cmp.Compare(a.ConnectionID, b.ConnectionID)
	})
}
