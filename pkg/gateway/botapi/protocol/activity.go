package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ActivityType string

const (
	ActivityMessage ActivityType = "message"
	ActivityEvent   ActivityType = "event"
)

// EventName names an event activity.
type EventName string

const (
	EventHangup                              EventName = "hangup"
	EventTransfer                            EventName = "transfer"
	EventConfig                              EventName = "config"
	EventPlayURL                             EventName = "playUrl"
	EventStart                               EventName = "start"
	EventStartRecognition                    EventName = "startRecognition"
	EventStopRecognition                     EventName = "stopRecognition"
	EventSendMetaData                        EventName = "sendMetaData"
	EventStartCallRecording                  EventName = "startCallRecording"
	EventStopCallRecording                   EventName = "stopCallRecording"
	EventPauseCallRecording                  EventName = "pauseCallRecording"
	EventResumeCallRecording                 EventName = "resumeCallRecording"
	EventSpeakerVerificationCreateSpeaker    EventName = "speakerVerificationCreateSpeaker"
	EventSpeakerVerificationGetSpeakerStatus EventName = "speakerVerificationGetSpeakerStatus"
	EventSpeakerVerificationDeleteSpeaker    EventName = "speakerVerificationDeleteSpeaker"
	EventSpeakerVerificationEnroll           EventName = "speakerVerificationEnroll"
	EventSpeakerVerificationVerify           EventName = "speakerVerificationVerify"
	EventAbortPrompts                        EventName = "abortPrompts"
	EventExpectAnotherBotMessage             EventName = "expectAnotherBotMessage"
	EventSendDTMF                            EventName = "sendDtmf"
)

var knownEvents = map[EventName]struct{}{
	EventHangup:                              {},
	EventTransfer:                            {},
	EventConfig:                              {},
	EventPlayURL:                             {},
	EventStart:                               {},
	EventStartRecognition:                    {},
	EventStopRecognition:                     {},
	EventSendMetaData:                        {},
	EventStartCallRecording:                  {},
	EventStopCallRecording:                   {},
	EventPauseCallRecording:                  {},
	EventResumeCallRecording:                 {},
	EventSpeakerVerificationCreateSpeaker:    {},
	EventSpeakerVerificationGetSpeakerStatus: {},
	EventSpeakerVerificationDeleteSpeaker:    {},
	EventSpeakerVerificationEnroll:           {},
	EventSpeakerVerificationVerify:           {},
	EventAbortPrompts:                        {},
	EventExpectAnotherBotMessage:             {},
	EventSendDTMF:                            {},
}

// Known reports whether n is one of the event names the platform defines.
func (n EventName) Known() bool {
	_, ok := knownEvents[n]
	return ok
}

// Activity is a structured, non-audio unit: a text message or a named event.
type Activity struct {
	Type           ActivityType    `json:"type"`
	Name           EventName       `json:"name,omitempty"`
	Text           string          `json:"text,omitempty"`
	ID             string          `json:"id,omitempty"`
	Timestamp      string          `json:"timestamp,omitempty"`
	ActivityParams map[string]any  `json:"activityParams,omitempty"`
	SessionParams  map[string]any  `json:"sessionParams,omitempty"`
	Parameters     map[string]any  `json:"parameters,omitempty"`
	Value          json.RawMessage `json:"value,omitempty"`
	Delay          *int            `json:"delay,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var activityFields = map[string]struct{}{
	"type":           {},
	"name":           {},
	"text":           {},
	"id":             {},
	"timestamp":      {},
	"activityParams": {},
	"sessionParams":  {},
	"parameters":     {},
	"value":          {},
	"delay":          {},
}

type activityAlias Activity

func (a Activity) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(activityAlias(a))
	if err != nil {
		return nil, err
	}
	return mergeExtra(known, a.Extra, activityFields)
}

func (a *Activity) UnmarshalJSON(data []byte) error {
	var alias activityAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	extra, err := splitExtra(data, activityFields)
	if err != nil {
		return err
	}
	alias.Extra = extra
	*a = Activity(alias)
	return nil
}

// Validate checks the shape of an activity. Event names outside the known set
// are accepted so newer platform events still reach the application.
func (a Activity) Validate() error {
	switch a.Type {
	case ActivityMessage:
		if strings.TrimSpace(a.Text) == "" {
			return badRequest("message activity text is required", "text")
		}
	case ActivityEvent:
		if strings.TrimSpace(string(a.Name)) == "" {
			return badRequest("event activity name is required", "name")
		}
	case "":
		return badRequest("activity type is required", "type")
	default:
		return badRequest(fmt.Sprintf("unsupported activity type %q", a.Type), "type")
	}
	return nil
}

func NewMessageActivity(text string, params map[string]any) Activity {
	return Activity{Type: ActivityMessage, Text: text, ActivityParams: params}
}

func NewEventActivity(name EventName) Activity {
	return Activity{Type: ActivityEvent, Name: name}
}
