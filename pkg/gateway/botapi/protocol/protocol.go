package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// MessageType is the value of the "type" field of every frame.
type MessageType string

// Messages sent by the peer.
const (
	SessionInitiate MessageType = "session.initiate"
	SessionResume   MessageType = "session.resume"
	SessionEnd      MessageType = "session.end"
	Activities      MessageType = "activities"
	UserStreamStart MessageType = "userStream.start"
	UserStreamChunk MessageType = "userStream.chunk"
	UserStreamStop  MessageType = "userStream.stop"
)

// Messages sent by the session. Activities is shared by both directions.
const (
	SessionAccepted   MessageType = "session.accepted"
	SessionError      MessageType = "session.error"
	UserStreamStarted MessageType = "userStream.started"
	UserStreamStopped MessageType = "userStream.stopped"
	SpeechHypothesis  MessageType = "userStream.speech.hypothesis"
	SpeechRecognition MessageType = "userStream.speech.recognition"
	SpeechStarted     MessageType = "userStream.speech.started"
	SpeechStopped     MessageType = "userStream.speech.stopped"
	SpeechCommitted   MessageType = "userStream.speech.committed"
	PlayStreamStart   MessageType = "playStream.start"
	PlayStreamChunk   MessageType = "playStream.chunk"
	PlayStreamStop    MessageType = "playStream.stop"
)

var inboundTypes = map[MessageType]struct{}{
	SessionInitiate: {},
	SessionResume:   {},
	SessionEnd:      {},
	Activities:      {},
	UserStreamStart: {},
	UserStreamChunk: {},
	UserStreamStop:  {},
}

var outboundTypes = map[MessageType]struct{}{
	SessionAccepted:   {},
	SessionError:      {},
	Activities:        {},
	UserStreamStarted: {},
	UserStreamStopped: {},
	SpeechHypothesis:  {},
	SpeechRecognition: {},
	SpeechStarted:     {},
	SpeechStopped:     {},
	SpeechCommitted:   {},
	PlayStreamStart:   {},
	PlayStreamChunk:   {},
	PlayStreamStop:    {},
}

// IsInbound reports whether t is a kind the peer may send.
func (t MessageType) IsInbound() bool {
	_, ok := inboundTypes[t]
	return ok
}

// IsOutbound reports whether t is a kind the session may send.
func (t MessageType) IsOutbound() bool {
	_, ok := outboundTypes[t]
	return ok
}

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// Alternative is one recognition candidate.
type Alternative struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Message is the single frame shape of the protocol. Only the fields relevant
// to Type are populated; fields this package does not know about are kept in
// Extra and written back out by Encode.
type Message struct {
	Type                  MessageType    `json:"type"`
	ConversationID        string         `json:"conversationId,omitempty"`
	ExpectAudioMessages   *bool          `json:"expectAudioMessages,omitempty"`
	SupportedMediaFormats []MediaFormat  `json:"supportedMediaFormats,omitempty"`
	Caller                string         `json:"caller,omitempty"`
	Participant           string         `json:"participant,omitempty"`
	Activities            []Activity     `json:"activities,omitempty"`
	AudioChunk            string         `json:"audioChunk,omitempty"`
	MediaFormat           MediaFormat    `json:"mediaFormat,omitempty"`
	StreamID              string         `json:"streamId,omitempty"`
	AltText               string         `json:"altText,omitempty"`
	ActivityParams        map[string]any `json:"activityParams,omitempty"`
	Reason                string         `json:"reason,omitempty"`
	Alternatives          []Alternative  `json:"alternatives,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var messageFields = map[string]struct{}{
	"type":                  {},
	"conversationId":        {},
	"expectAudioMessages":   {},
	"supportedMediaFormats": {},
	"caller":                {},
	"participant":           {},
	"activities":            {},
	"audioChunk":            {},
	"mediaFormat":           {},
	"streamId":              {},
	"altText":               {},
	"activityParams":        {},
	"reason":                {},
	"alternatives":          {},
}

type messageAlias Message

func (m Message) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(messageAlias(m))
	if err != nil {
		return nil, err
	}
	return mergeExtra(known, m.Extra, messageFields)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var alias messageAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	extra, err := splitExtra(data, messageFields)
	if err != nil {
		return err
	}
	alias.Extra = extra
	*m = Message(alias)
	return nil
}

// Encode renders payload as a frame of kind typ.
func Encode(typ MessageType, payload Message) ([]byte, error) {
	if strings.TrimSpace(string(typ)) == "" {
		return nil, fmt.Errorf("encode message: type is required")
	}
	payload.Type = typ
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typ, err)
	}
	return data, nil
}

// DecodeMessage parses one text frame. Malformed input yields a *DecodeError.
// Unknown types decode successfully; the caller decides what to do with them.
func DecodeMessage(data []byte) (Message, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, badRequest("frame is not a json object", "")
	}

	var envelope struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return Message{}, badRequest("invalid json frame", "")
	}
	var typ string
	if len(envelope.Type) > 0 {
		if err := json.Unmarshal(envelope.Type, &typ); err != nil {
			return Message{}, badRequest("type must be a string", "type")
		}
	}
	if strings.TrimSpace(typ) == "" {
		return Message{}, badRequest("missing type", "type")
	}

	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return Message{}, badRequest(fmt.Sprintf("invalid %s message", typ), "")
	}

	switch msg.Type {
	case SessionInitiate:
		if strings.TrimSpace(msg.ConversationID) == "" {
			return Message{}, badRequest("session.initiate.conversationId is required", "conversationId")
		}
	case UserStreamChunk:
		if msg.AudioChunk == "" {
			return Message{}, badRequest("userStream.chunk.audioChunk is required", "audioChunk")
		}
	}
	return msg, nil
}

const redactedChunkLen = 40

// RedactAudioChunk shortens base64 audio for logging.
func RedactAudioChunk(chunk string) string {
	if len(chunk) <= redactedChunkLen {
		return chunk
	}
	return chunk[:redactedChunkLen] + "..."
}

// RedactedForLog returns the message as a generic map with the audio payload
// truncated.
func (m Message) RedactedForLog() map[string]any {
	redacted := m
	redacted.AudioChunk = RedactAudioChunk(m.AudioChunk)
	data, err := json.Marshal(redacted)
	if err != nil {
		return map[string]any{"type": string(m.Type)}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": string(m.Type)}
	}
	return out
}

// LogValue makes slog print the redacted form.
func (m Message) LogValue() slog.Value {
	return slog.AnyValue(m.RedactedForLog())
}
