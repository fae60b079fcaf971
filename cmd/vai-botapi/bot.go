package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/protocol"
	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/session"
	"github.com/vango-go/vai-botapi/pkg/gateway/handlers"
)

// newEchoBot speaks typed messages back to the caller, hangs up on "bye",
// and reports the size of each finished user stream as a recognition.
func newEchoBot(logger *slog.Logger) handlers.ConversationHandler {
	return func(ctx context.Context, s *session.Session, req handlers.Request, msg protocol.Message) error {
		log := logger.With("connection_id", req.ConnectionID, "conversation_id", msg.ConversationID)

		s.OnActivity(func(a protocol.Activity) {
			if a.Type != protocol.ActivityMessage || a.Text == "" {
				return
			}
			if strings.EqualFold(strings.TrimSpace(a.Text), "bye") {
				if err := s.SendActivity(ctx, protocol.NewMessageActivity("Goodbye", nil), protocol.NewEventActivity(protocol.EventHangup)); err != nil {
					log.Warn("echo bot hangup failed", "error", err)
				}
				return
			}
			if err := s.PlayTextMessage(ctx, "You said: "+a.Text, nil); err != nil {
				log.Warn("echo bot reply failed", "error", err)
			}
		})

		s.OnUserStream(func(u *session.UserStream) {
			go func() {
				n, err := io.Copy(io.Discard, u)
				if err != nil {
					return
				}
				text := fmt.Sprintf("received %d bytes of audio", n)
				if err := s.SendRecognition(ctx, text, 1, u.Participant()); err != nil {
					log.Warn("echo bot recognition failed", "error", err)
				}
			}()
		})

		s.OnError(func(err error) {
			log.Debug("echo bot send error", "error", err)
		})
		return nil
	}
}
