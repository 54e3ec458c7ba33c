package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/solace/pkg/helpers"
)

// TopicTurns is the topic pipeline events are published on.
const TopicTurns = "turns"

// EventRouter owns an in-process watermill pub/sub and the router that
// dispatches published turn events to handlers.
type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	verbose    bool
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = verbose
		if verbose {
			r.logger = helpers.NewWatermill(log.Logger)
		}
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router

	return ret, nil
}

// Sink returns an EventSink publishing onto this router's topic.
func (e *EventRouter) Sink(topic string) *WatermillSink {
	return NewWatermillSink(e.Publisher, topic)
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("Closing publisher")
	if err := e.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
	}

	log.Debug().Msg("Closing router")
	if err := e.router.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}

	return nil
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// LogEvents logs every turn event: errors at warn, everything else at debug.
func (e *EventRouter) LogEvents(msg *message.Message) error {
	defer msg.Ack()

	ev, err := NewEventFromJson(msg.Payload)
	if err != nil {
		log.Warn().Err(err).Str("message_id", msg.UUID).Msg("Failed to decode turn event")
		return nil
	}

	switch ev_ := ev.(type) {
	case *EventError:
		log.Warn().
			Object("meta", ev_.Metadata()).
			Str("kind", ev_.Kind).
			Str("stage", ev_.Stage).
			Msg("Turn failed")
	case *EventFinal:
		log.Info().
			Object("meta", ev_.Metadata()).
			Int64("duration_ms", ev_.DurationMs).
			Msg("Turn completed")
	default:
		log.Debug().
			Object("meta", ev.Metadata()).
			Str("type", string(ev.Type())).
			Msg("Turn event")
	}
	return nil
}

// DumpRawEventsTo prints events as indented JSON. Unless verbose, metadata is
// collapsed into an id field.
func (e *EventRouter) DumpRawEventsTo(w io.Writer) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		defer msg.Ack()

		var s map[string]interface{}
		if err := json.Unmarshal(msg.Payload, &s); err != nil {
			return err
		}
		if !e.verbose {
			if meta, ok := s["meta"].(map[string]interface{}); ok {
				s["id"] = meta["message_id"]
			}
			delete(s, "meta")
		}
		s_, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(s_))
		return err
	}
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}
