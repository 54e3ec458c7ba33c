// Package session runs the receive/run/emit loop of one duplex connection.
package session

import (
	"context"
	"sync"

	"github.com/go-go-golems/solace/pkg/events"
	"github.com/go-go-golems/solace/pkg/pipeline"
	"github.com/go-go-golems/solace/pkg/protocol"
	"github.com/go-go-golems/solace/pkg/turns"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by Conn.ReadMessage when the peer went away.
var ErrClosed = errors.New("session closed")

// Conn is a message-oriented duplex connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Runner executes one turn.
type Runner interface {
	Run(ctx context.Context, t *turns.Turn, sinks ...events.EventSink) (*pipeline.Result, error)
}

// OnTurnError decides whether a failed turn ends the session.
type OnTurnError int

const (
	Continue OnTurnError = iota
	Terminate
)

func (o OnTurnError) String() string {
	if o == Terminate {
		return "terminate"
	}
	return "continue"
}

func ParseOnTurnError(s string) (OnTurnError, error) {
	switch s {
	case "", "continue":
		return Continue, nil
	case "terminate":
		return Terminate, nil
	default:
		return Continue, errors.Errorf("unknown turn error policy %q", s)
	}
}

type Channel struct {
	conn        Conn
	runner      Runner
	onTurnError OnTurnError
	partials    bool
	id          string
}

type Option func(*Channel)

func WithOnTurnError(o OnTurnError) Option {
	return func(c *Channel) {
		c.onTurnError = o
	}
}

// WithPartials streams pipeline events to the peer as they happen.
func WithPartials(partials bool) Option {
	return func(c *Channel) {
		c.partials = partials
	}
}

func WithSessionID(id string) Option {
	return func(c *Channel) {
		c.id = id
	}
}

func New(conn Conn, runner Runner, opts ...Option) *Channel {
	c := &Channel{
		conn:   conn,
		runner: runner,
		id:     uuid.NewString(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Channel) ID() string {
	return c.id
}

// Serve loops until the peer disconnects, ctx is cancelled, a write fails or
// a turn fails under the Terminate policy. A disconnect is not an error.
// The connection is closed when Serve returns.
func (c *Channel) Serve(ctx context.Context) error {
	logger := log.With().Str("session_id", c.id).Logger()
	logger.Info().Msg("Session opened")

	done := make(chan struct{})
	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			if err := c.conn.Close(); err != nil {
				logger.Debug().Err(err).Msg("Failed to close connection")
			}
		})
	}
	defer closeConn()
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		raw, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				logger.Info().Msg("Session closed by peer")
				return nil
			}
			logger.Error().Err(err).Msg("Failed to read from session")
			return errors.Wrap(err, "reading message")
		}

		input, err := protocol.DecodeInbound(raw)
		if err != nil {
			logger.Warn().Err(err).Msg("Malformed message")
			if err := c.write(protocol.ErrorMessage(err)); err != nil {
				return c.writeFailed(ctx, err)
			}
			continue
		}

		t := turns.NewTurn(c.id, input)
		var sinks []events.EventSink
		if c.partials {
			sinks = append(sinks, events.SinkFunc(func(e events.Event) error {
				return c.write(protocol.EventFrame{Event: e})
			}))
		}

		res, err := c.runner.Run(ctx, t, sinks...)
		if ctx.Err() != nil {
			logger.Info().Str("turn_id", t.ID).Msg("Session closed during turn, discarding result")
			return nil
		}
		if err != nil {
			if werr := c.write(protocol.ErrorMessage(err)); werr != nil {
				return c.writeFailed(ctx, werr)
			}
			if c.onTurnError == Terminate && !turns.IsKind(err, turns.KindInput) {
				logger.Warn().Str("turn_id", t.ID).Msg("Terminating session after failed turn")
				return err
			}
			continue
		}

		if err := c.write(protocol.ResultMessage(res)); err != nil {
			return c.writeFailed(ctx, err)
		}
	}
}

func (c *Channel) write(v interface{}) error {
	return c.conn.WriteJSON(v)
}

func (c *Channel) writeFailed(ctx context.Context, err error) error {
	if errors.Is(err, ErrClosed) || ctx.Err() != nil {
		log.Info().Str("session_id", c.id).Msg("Session closed by peer")
		return nil
	}
	log.Error().Err(err).Str("session_id", c.id).Msg("Failed to write to session")
	return errors.Wrap(err, "writing message")
}
