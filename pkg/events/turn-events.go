package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-go-golems/solace/pkg/turns"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeTurnStarted     EventType = "turn-started"
	EventTypeTranscription   EventType = "transcription"
	EventTypeContext         EventType = "context"
	EventTypeResponse        EventType = "response"
	EventTypeRenderSubmitted EventType = "render-submitted"
	EventTypeAvatar          EventType = "avatar"
	EventTypeFinal           EventType = "final"
	EventTypeError           EventType = "error"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
}

// EventMetadata identifies the turn an event belongs to.
type EventMetadata struct {
	ID        uuid.UUID `json:"message_id"`
	SessionID string    `json:"session_id,omitempty"`
	TurnID    string    `json:"turn_id"`
	Time      time.Time `json:"time"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.SessionID != "" {
		e.Str("session_id", em.SessionID)
	}
	e.Str("turn_id", em.TurnID)
}

func NewMetadata(t *turns.Turn) EventMetadata {
	md := EventMetadata{ID: uuid.New(), Time: time.Now()}
	if t != nil {
		md.TurnID = t.ID
		md.SessionID = t.SessionID
	}
	return md
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

type EventTurnStarted struct {
	EventImpl
	Input turns.InputKind `json:"input"`
}

func NewTurnStartedEvent(md EventMetadata, input turns.InputKind) *EventTurnStarted {
	return &EventTurnStarted{
		EventImpl: EventImpl{Type_: EventTypeTurnStarted, Metadata_: md},
		Input:     input,
	}
}

type EventTranscription struct {
	EventImpl
	Text string `json:"text"`
}

func NewTranscriptionEvent(md EventMetadata, text string) *EventTranscription {
	return &EventTranscription{
		EventImpl: EventImpl{Type_: EventTypeTranscription, Metadata_: md},
		Text:      text,
	}
}

type EventContext struct {
	EventImpl
	Documents int               `json:"documents"`
	Source    turns.SourceLabel `json:"source"`
}

func NewContextEvent(md EventMetadata, documents int, source turns.SourceLabel) *EventContext {
	return &EventContext{
		EventImpl: EventImpl{Type_: EventTypeContext, Metadata_: md},
		Documents: documents,
		Source:    source,
	}
}

type EventResponse struct {
	EventImpl
	Text     string            `json:"text"`
	Source   turns.SourceLabel `json:"source"`
	Fallback bool              `json:"fallback,omitempty"`
}

func NewResponseEvent(md EventMetadata, result turns.GenerationResult) *EventResponse {
	return &EventResponse{
		EventImpl: EventImpl{Type_: EventTypeResponse, Metadata_: md},
		Text:      result.ResponseText,
		Source:    result.Source,
		Fallback:  result.Fallback,
	}
}

type EventRenderSubmitted struct {
	EventImpl
	JobID string `json:"job_id"`
}

func NewRenderSubmittedEvent(md EventMetadata, jobID string) *EventRenderSubmitted {
	return &EventRenderSubmitted{
		EventImpl: EventImpl{Type_: EventTypeRenderSubmitted, Metadata_: md},
		JobID:     jobID,
	}
}

type EventAvatar struct {
	EventImpl
	URL string `json:"avatar_url"`
}

func NewAvatarEvent(md EventMetadata, url string) *EventAvatar {
	return &EventAvatar{
		EventImpl: EventImpl{Type_: EventTypeAvatar, Metadata_: md},
		URL:       url,
	}
}

type EventFinal struct {
	EventImpl
	DurationMs int64 `json:"duration_ms"`
}

func NewFinalEvent(md EventMetadata, d time.Duration) *EventFinal {
	return &EventFinal{
		EventImpl:  EventImpl{Type_: EventTypeFinal, Metadata_: md},
		DurationMs: d.Milliseconds(),
	}
}

// EventError carries only the peer-safe message; the full error is logged
// where it happens.
type EventError struct {
	EventImpl
	Kind    string `json:"kind"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

func NewErrorEvent(md EventMetadata, err *turns.Error) *EventError {
	return &EventError{
		EventImpl: EventImpl{Type_: EventTypeError, Metadata_: md},
		Kind:      err.Kind.String(),
		Stage:     string(err.Stage),
		Message:   err.PublicMessage(),
	}
}

// NewEventFromJson decodes a serialized event into its typed struct.
func NewEventFromJson(b []byte) (Event, error) {
	var hdr struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, err
	}

	var e Event
	switch hdr.Type {
	case EventTypeTurnStarted:
		e = &EventTurnStarted{}
	case EventTypeTranscription:
		e = &EventTranscription{}
	case EventTypeContext:
		e = &EventContext{}
	case EventTypeResponse:
		e = &EventResponse{}
	case EventTypeRenderSubmitted:
		e = &EventRenderSubmitted{}
	case EventTypeAvatar:
		e = &EventAvatar{}
	case EventTypeFinal:
		e = &EventFinal{}
	case EventTypeError:
		e = &EventError{}
	default:
		return nil, fmt.Errorf("unknown event type %q", hdr.Type)
	}

	if err := json.Unmarshal(b, e); err != nil {
		return nil, err
	}
	return e, nil
}
