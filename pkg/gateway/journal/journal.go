// Package journal records bot conversations so operators can see who called,
// when, and how each conversation ended.
package journal

import (
	"context"
	"time"
)

type Entry struct {
	ConnectionID   string
	ConversationID string
	RequestID      string
	RemoteAddr     string
	Caller         string
	MediaFormat    string
	StartedAt      time.Time
}

// Journal failures are reported to the caller and never end a session.
type Journal interface {
	ConversationStarted(ctx context.Context, e Entry) error
	ConversationEnded(ctx context.Context, connectionID, reason string, at time.Time) error
	Close()
}

// Nop discards everything.
type Nop struct{}

func (Nop) ConversationStarted(context.Context, Entry) error { return nil }

func (Nop) ConversationEnded(context.Context, string, string, time.Time) error { return nil }

func (Nop) Close() {}
