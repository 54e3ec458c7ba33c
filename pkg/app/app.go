// Package app assembles the turn pipelines and the HTTP server from the
// deployment settings.
package app

import (
	"context"

	"github.com/go-go-golems/solace/pkg/backends"
	"github.com/go-go-golems/solace/pkg/backends/factory"
	"github.com/go-go-golems/solace/pkg/config"
	"github.com/go-go-golems/solace/pkg/events"
	"github.com/go-go-golems/solace/pkg/pipeline"
	"github.com/go-go-golems/solace/pkg/polling"
	"github.com/go-go-golems/solace/pkg/ratelimit"
	"github.com/go-go-golems/solace/pkg/retry"
	"github.com/go-go-golems/solace/pkg/server"
	"github.com/go-go-golems/solace/pkg/session"
	"github.com/go-go-golems/solace/pkg/turns"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// App holds the pipelines of every variant. All of them share one token
// bucket, so the requests-per-minute budget covers the whole process.
type App struct {
	Settings *config.Settings
	Limiter  *ratelimit.TokenBucket

	Transcriber backends.Transcriber
	Searcher    backends.Searcher
	Generator   backends.Generator
	Renderer    backends.Renderer

	Chat     *pipeline.Pipeline
	Avatar   *pipeline.Pipeline
	Question *pipeline.Pipeline

	factory *factory.BackendFactory
}

type Option func(*options)

type options struct {
	sinks       []events.EventSink
	transcriber backends.Transcriber
	searcher    backends.Searcher
	generator   backends.Generator
	renderer    backends.Renderer
	limiter     *ratelimit.TokenBucket
}

// WithEventSink publishes the events of every turn to sink.
func WithEventSink(sink events.EventSink) Option {
	return func(o *options) {
		o.sinks = append(o.sinks, sink)
	}
}

// WithBackends replaces the collaborators the settings would select. Nil
// arguments keep the configured backend.
func WithBackends(t backends.Transcriber, s backends.Searcher, g backends.Generator, r backends.Renderer) Option {
	return func(o *options) {
		o.transcriber = t
		o.searcher = s
		o.generator = g
		o.renderer = r
	}
}

func WithLimiter(l *ratelimit.TokenBucket) Option {
	return func(o *options) {
		o.limiter = l
	}
}

func Build(ctx context.Context, s *config.Settings, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{
		Settings: s,
		factory:  factory.NewBackendFactory(),
		Limiter:  o.limiter,
	}
	if a.Limiter == nil {
		a.Limiter = ratelimit.NewPerMinute(s.RateLimit.RequestsPerMinute)
	}

	var err error
	if a.Searcher = o.searcher; a.Searcher == nil {
		if a.Searcher, err = a.factory.CreateSearcher(s); err != nil {
			return nil, err
		}
	}
	if a.Generator = o.generator; a.Generator == nil {
		if a.Generator, err = a.factory.CreateGenerator(ctx, s); err != nil {
			return nil, err
		}
	}
	if a.Transcriber = o.transcriber; a.Transcriber == nil {
		if a.Transcriber, err = a.factory.CreateTranscriber(s); err != nil {
			log.Warn().Err(err).Msg("Audio turns are disabled")
		}
	}
	if a.Renderer = o.renderer; a.Renderer == nil && s.Render.Enabled {
		if a.Renderer, err = a.factory.CreateRenderer(s); err != nil {
			return nil, err
		}
	}

	common := []pipeline.Option{
		pipeline.WithSearcher(a.Searcher),
		pipeline.WithGenerator(a.Generator),
		pipeline.WithLimiter(a.Limiter),
		pipeline.WithRetry(
			retry.WithAttempts(s.Generation.Attempts),
			retry.WithAttemptTimeout(s.Generation.AttemptTimeout),
			retry.WithRateLimitDelay(s.Generation.RateLimitDelay),
		),
	}
	if a.Transcriber != nil {
		common = append(common, pipeline.WithTranscriber(a.Transcriber))
	}
	if s.Search.ContextTokenBudget > 0 {
		counter, err := pipeline.NewTokenCounter()
		if err != nil {
			return nil, err
		}
		common = append(common, pipeline.WithContextTokenBudget(s.Search.ContextTokenBudget, counter))
	}
	for _, sink := range o.sinks {
		common = append(common, pipeline.WithSink(sink))
	}
	variant := func(extra ...pipeline.Option) []pipeline.Option {
		return append(append([]pipeline.Option{}, common...), extra...)
	}

	if a.Chat, err = pipeline.New(variant(
		pipeline.WithTopK(s.Search.TopK),
		pipeline.WithPromptTemplate(pipeline.ChatPrompt),
	)...); err != nil {
		return nil, errors.Wrap(err, "building chat pipeline")
	}

	httpSettings := s.ForHTTP()
	if a.Question, err = pipeline.New(variant(
		pipeline.WithTopK(httpSettings.Search.TopK),
		pipeline.WithPromptTemplate(pipeline.QuestionPrompt),
		pipeline.WithGenerationFailure(pipeline.PropagateFailure),
	)...); err != nil {
		return nil, errors.Wrap(err, "building question pipeline")
	}

	if a.Renderer != nil {
		if a.Avatar, err = pipeline.New(variant(
			pipeline.WithTopK(s.Search.TopK),
			pipeline.WithPromptTemplate(pipeline.SpeechPrompt),
			pipeline.WithRenderer(a.Renderer, turns.RenderRequest{
				VoiceProvider: s.Render.VoiceProvider,
				VoiceID:       s.Render.VoiceID,
				SourceURL:     s.Render.SourceURL,
			}),
			pipeline.WithWaiter(
				polling.WithInterval(s.Render.PollInterval),
				polling.WithMaxAttempts(s.Render.PollAttempts),
			),
		)...); err != nil {
			return nil, errors.Wrap(err, "building avatar pipeline")
		}
	}

	return a, nil
}

// ServerOptions wires the pipelines onto their endpoints.
func (a *App) ServerOptions() ([]server.Option, error) {
	chatPolicy, err := session.ParseOnTurnError(a.Settings.Session.OnTurnError)
	if err != nil {
		return nil, err
	}
	avatarPolicy, err := session.ParseOnTurnError(a.Settings.Session.AvatarOnTurnError)
	if err != nil {
		return nil, err
	}

	ret := []server.Option{
		server.WithAllowedOrigins(a.Settings.Server.AllowedOrigins),
		server.WithQuestion(a.Question),
		server.WithChat(a.Chat,
			session.WithOnTurnError(chatPolicy),
			session.WithPartials(a.Settings.Session.Partials)),
	}
	if a.Avatar != nil {
		ret = append(ret, server.WithAvatar(a.Avatar,
			session.WithOnTurnError(avatarPolicy),
			session.WithPartials(a.Settings.Session.Partials)))
	}
	return ret, nil
}

func (a *App) Close() error {
	return a.factory.Close()
}
