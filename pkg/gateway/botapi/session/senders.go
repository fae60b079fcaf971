package session

import (
	"context"
	"errors"
	"strings"

	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/protocol"
)

// SendHypothesis reports an interim recognition result.
func (s *Session) SendHypothesis(ctx context.Context, text, participant string) error {
	return s.Send(ctx, protocol.SpeechHypothesis, protocol.Message{
		Participant:  participant,
		Alternatives: []protocol.Alternative{{Text: strings.ToLower(text)}},
	})
}

// SendRecognition reports a final recognition result.
func (s *Session) SendRecognition(ctx context.Context, text string, confidence float64, participant string) error {
	return s.Send(ctx, protocol.SpeechRecognition, protocol.Message{
		Participant:  participant,
		Alternatives: []protocol.Alternative{{Text: strings.ToLower(text), Confidence: &confidence}},
	})
}

func (s *Session) SendCommitted(ctx context.Context, participant string) error {
	return s.Send(ctx, protocol.SpeechCommitted, protocol.Message{Participant: participant})
}

func (s *Session) SendSpeechStarted(ctx context.Context, participant string) error {
	return s.Send(ctx, protocol.SpeechStarted, protocol.Message{Participant: participant})
}

func (s *Session) SendSpeechStopped(ctx context.Context, participant string) error {
	return s.Send(ctx, protocol.SpeechStopped, protocol.Message{Participant: participant})
}

// PlayTextMessage asks the platform to speak text.
func (s *Session) PlayTextMessage(ctx context.Context, text string, params map[string]any) error {
	return s.SendActivity(ctx, protocol.NewMessageActivity(text, params))
}

func (s *Session) SendActivity(ctx context.Context, activities ...protocol.Activity) error {
	if len(activities) == 0 {
		return errors.New("at least one activity is required")
	}
	return s.Send(ctx, protocol.Activities, protocol.Message{Activities: activities})
}
