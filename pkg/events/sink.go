package events

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// EventSink is a destination for pipeline events.
type EventSink interface {
	PublishEvent(event Event) error
}

type SinkFunc func(event Event) error

func (f SinkFunc) PublishEvent(event Event) error {
	return f(event)
}

type NullSink struct{}

func (NullSink) PublishEvent(Event) error {
	return nil
}

// WatermillSink publishes JSON-serialized events to a watermill topic.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

func (w *WatermillSink) PublishEvent(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event to JSON")
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	md := event.Metadata()
	msg.Metadata.Set("turn_id", md.TurnID)
	if md.SessionID != "" {
		msg.Metadata.Set("session_id", md.SessionID)
	}

	if err := w.publisher.Publish(w.topic, msg); err != nil {
		log.Error().Err(err).Str("topic", w.topic).Msg("Failed to publish event to watermill")
		return err
	}

	log.Trace().Str("topic", w.topic).Str("event_type", string(event.Type())).Msg("Published event to watermill")
	return nil
}

var (
	_ EventSink = (*WatermillSink)(nil)
	_ EventSink = NullSink{}
	_ EventSink = SinkFunc(nil)
)
