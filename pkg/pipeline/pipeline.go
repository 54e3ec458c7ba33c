// Package pipeline orchestrates one conversational turn: admission,
// transcription, retrieval, prompt composition, generation and the optional
// avatar render. Progress is published as events on the configured sinks.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/go-go-golems/solace/pkg/backends"
	"github.com/go-go-golems/solace/pkg/events"
	"github.com/go-go-golems/solace/pkg/polling"
	"github.com/go-go-golems/solace/pkg/retry"
	"github.com/go-go-golems/solace/pkg/turns"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultTopK = 3

// Limiter admits or rejects a turn without blocking.
type Limiter interface {
	TryAcquire() bool
}

// GenerationFailure selects what happens when the generator rejects a
// request with a non-retryable status.
type GenerationFailure int

const (
	// FallbackOnFailure answers with the apology text.
	FallbackOnFailure GenerationFailure = iota
	// PropagateFailure fails the turn with the downstream status and detail.
	PropagateFailure
)

// Result is the outcome of a successful turn.
type Result struct {
	TurnID        string
	Transcription string
	Documents     []turns.Document
	Context       string
	Generation    turns.GenerationResult
	AvatarURL     string
	// GenerationErr is set when the response is the fallback text.
	GenerationErr *turns.Error
}

func (r *Result) HasTranscription() bool {
	return r.Transcription != ""
}

func (r *Result) HasAvatar() bool {
	return r.AvatarURL != ""
}

type Pipeline struct {
	transcriber backends.Transcriber
	searcher    backends.Searcher
	generator   backends.Generator
	renderer    backends.Renderer
	limiter     Limiter

	template     *PromptTemplate
	topK         int
	searchFields []string
	tokenBudget  int
	counter      TokenCounter
	onFailure    GenerationFailure
	render       turns.RenderRequest

	retryOptions  []retry.Option
	waiterOptions []polling.Option
	generate      retry.CallFunc[turns.Prompt, string]
	waiter        *polling.Waiter

	sinks []events.EventSink
	now   func() time.Time
}

type Option func(*Pipeline)

func WithTranscriber(t backends.Transcriber) Option {
	return func(p *Pipeline) {
		p.transcriber = t
	}
}

func WithSearcher(s backends.Searcher) Option {
	return func(p *Pipeline) {
		p.searcher = s
	}
}

func WithGenerator(g backends.Generator) Option {
	return func(p *Pipeline) {
		p.generator = g
	}
}

// WithRenderer enables the avatar stage. req supplies voice and portrait;
// the script text is filled in per turn.
func WithRenderer(r backends.Renderer, req turns.RenderRequest) Option {
	return func(p *Pipeline) {
		p.renderer = r
		p.render = req
	}
}

func WithLimiter(l Limiter) Option {
	return func(p *Pipeline) {
		p.limiter = l
	}
}

func WithRetry(opts ...retry.Option) Option {
	return func(p *Pipeline) {
		p.retryOptions = append(p.retryOptions, opts...)
	}
}

func WithWaiter(opts ...polling.Option) Option {
	return func(p *Pipeline) {
		p.waiterOptions = append(p.waiterOptions, opts...)
	}
}

func WithTopK(k int) Option {
	return func(p *Pipeline) {
		if k < 1 {
			k = 1
		}
		p.topK = k
	}
}

func WithSearchFields(fields ...string) Option {
	return func(p *Pipeline) {
		p.searchFields = fields
	}
}

func WithPromptTemplate(t *PromptTemplate) Option {
	return func(p *Pipeline) {
		p.template = t
	}
}

// WithContextTokenBudget drops trailing documents until the context fits.
func WithContextTokenBudget(budget int, counter TokenCounter) Option {
	return func(p *Pipeline) {
		p.tokenBudget = budget
		p.counter = counter
	}
}

func WithGenerationFailure(f GenerationFailure) Option {
	return func(p *Pipeline) {
		p.onFailure = f
	}
}

// WithSink adds a sink that receives the events of every turn.
func WithSink(s events.EventSink) Option {
	return func(p *Pipeline) {
		p.sinks = append(p.sinks, s)
	}
}

func New(options ...Option) (*Pipeline, error) {
	p := &Pipeline{
		template:     ChatPrompt,
		topK:         DefaultTopK,
		searchFields: turns.DefaultSearchFields,
		now:          time.Now,
	}
	for _, o := range options {
		o(p)
	}

	if p.searcher == nil {
		return nil, errors.New("pipeline needs a searcher")
	}
	if p.generator == nil {
		return nil, errors.New("pipeline needs a generator")
	}

	opts := append([]retry.Option{retry.WithName("generator")}, p.retryOptions...)
	p.generate = retry.New(p.generator.Generate, opts...).Call
	if p.renderer != nil {
		p.waiter = polling.NewWaiter(p.renderer, p.waiterOptions...)
	}

	return p, nil
}

// Renders reports whether turns end with an avatar video.
func (p *Pipeline) Renders() bool {
	return p.renderer != nil
}

// Run executes a single turn. Every failure is returned as a *turns.Error
// after an error event has been published.
func (p *Pipeline) Run(ctx context.Context, t *turns.Turn, sinks ...events.EventSink) (*Result, error) {
	start := p.now()
	md := events.NewMetadata(t)
	sinks = append(append([]events.EventSink{}, p.sinks...), sinks...)
	r := &run{p: p, md: md, sinks: sinks, turn: t}

	r.emit(events.NewTurnStartedEvent(md, t.Input.Kind))

	// malformed turns are rejected before they spend a token
	if terr := checkInput(t.Input); terr != nil {
		return nil, r.fail(terr)
	}
	if p.limiter != nil && !p.limiter.TryAcquire() {
		return nil, r.fail(turns.NewError(turns.KindRateLimited, turns.StageAdmission,
			errors.New("request rate limit reached")))
	}

	res := &Result{TurnID: t.ID}

	text, terr := r.userText(ctx)
	if terr != nil {
		return nil, r.fail(terr)
	}
	if t.Input.Kind == turns.InputKindAudio {
		res.Transcription = text
	}

	docs, terr := r.retrieve(ctx, text)
	if terr != nil {
		return nil, r.fail(terr)
	}
	res.Documents = docs
	res.Context = FormatContext(docs)
	source := turns.SourceLabelFor(res.Context)
	r.emit(events.NewContextEvent(md, len(docs), source))

	prompt, err := p.template.Render(PromptData{Context: res.Context, Message: text})
	if err != nil {
		return nil, r.fail(turns.NewError(turns.KindInternal, turns.StageGenerate, err))
	}

	gen, genErr, terr := r.generateResponse(ctx, prompt, source)
	if terr != nil {
		return nil, r.fail(terr)
	}
	res.Generation = gen
	res.GenerationErr = genErr
	r.emit(events.NewResponseEvent(md, gen))

	if p.renderer != nil {
		url, terr := r.renderAvatar(ctx, gen.ResponseText)
		if terr != nil {
			return nil, r.fail(terr)
		}
		res.AvatarURL = url
		r.emit(events.NewAvatarEvent(md, url))
	}

	r.emit(events.NewFinalEvent(md, p.now().Sub(start)))
	return res, nil
}

type run struct {
	p     *Pipeline
	md    events.EventMetadata
	sinks []events.EventSink
	turn  *turns.Turn
}

func (r *run) emit(ev events.Event) {
	for _, s := range r.sinks {
		if err := s.PublishEvent(ev); err != nil {
			log.Warn().Err(err).
				Object("meta", r.md).
				Str("type", string(ev.Type())).
				Msg("Failed to publish turn event")
		}
	}
}

func (r *run) fail(err *turns.Error) error {
	ev := log.Error()
	if err.Kind == turns.KindInput || err.Kind == turns.KindRateLimited {
		ev = log.Warn()
	}
	ev.Err(err).
		Object("meta", r.md).
		Str("kind", err.Kind.String()).
		Str("stage", string(err.Stage)).
		Msg("Turn failed")
	r.emit(events.NewErrorEvent(r.md, err))
	return err
}

func checkInput(in turns.Input) *turns.Error {
	switch in.Kind {
	case turns.InputKindText:
		if strings.TrimSpace(in.Text) == "" {
			return turns.InputError("Message text is empty.")
		}
	case turns.InputKindAudio:
		if len(in.Audio) == 0 {
			return turns.InputError("Audio message is empty.")
		}
	default:
		return turns.InputError("Message has neither text nor audio.")
	}
	return nil
}

func (r *run) userText(ctx context.Context) (string, *turns.Error) {
	in := r.turn.Input
	switch in.Kind {
	case turns.InputKindText:
		return in.Text, nil

	case turns.InputKindAudio:
		if r.p.transcriber == nil {
			return "", turns.NewError(turns.KindBackendUnavailable, turns.StageTranscribe,
				errors.New("no transcriber configured"))
		}
		text, err := r.p.transcriber.Transcribe(ctx, in.Audio, in.Encoding)
		if err != nil {
			return "", turns.NewError(turns.KindBackendUnavailable, turns.StageTranscribe,
				errors.Wrap(err, "transcribing audio"))
		}
		if strings.TrimSpace(text) == "" {
			e := turns.InputError("No speech was detected in the audio message.")
			e.Stage = turns.StageTranscribe
			return "", e
		}
		r.emit(events.NewTranscriptionEvent(r.md, text))
		return text, nil

	default:
		return "", turns.InputError("Message has neither text nor audio.")
	}
}

func (r *run) retrieve(ctx context.Context, text string) ([]turns.Document, *turns.Error) {
	docs, err := r.p.searcher.Search(ctx, turns.SearchQuery{
		Text:   text,
		Fields: r.p.searchFields,
		TopK:   r.p.topK,
	})
	if err != nil {
		return nil, turns.NewError(turns.KindBackendUnavailable, turns.StageRetrieve,
			errors.Wrap(err, "searching knowledge index"))
	}
	if len(docs) > r.p.topK {
		docs = docs[:r.p.topK]
	}
	docs, err = TrimToTokenBudget(docs, r.p.tokenBudget, r.p.counter)
	if err != nil {
		return nil, turns.NewError(turns.KindInternal, turns.StageRetrieve, err)
	}
	return docs, nil
}

// generateResponse returns the generation result, the classified generation
// error when the fallback text was used, or a turn error when the failure
// must be propagated.
func (r *run) generateResponse(
	ctx context.Context,
	prompt turns.Prompt,
	source turns.SourceLabel,
) (turns.GenerationResult, *turns.Error, *turns.Error) {
	text, err := r.p.generate(ctx, prompt)
	if err == nil && strings.TrimSpace(text) != "" {
		return turns.GenerationResult{ResponseText: text, Source: source}, nil, nil
	}
	if err == nil {
		err = errors.New("generator returned an empty response")
	}

	var genErr *turns.Error
	var se *retry.StatusError
	switch {
	case errors.Is(err, retry.ErrRetriesExhausted):
		genErr = turns.NewError(turns.KindRetriesExhausted, turns.StageGenerate, err)
	case errors.As(err, &se):
		genErr = &turns.Error{
			Kind:   turns.KindDownstream,
			Stage:  turns.StageGenerate,
			Status: se.Code,
			Detail: se.Detail,
			Err:    err,
		}
		if r.p.onFailure == PropagateFailure {
			return turns.GenerationResult{}, nil, genErr
		}
	case ctx.Err() != nil:
		return turns.GenerationResult{}, nil, turns.NewError(turns.KindInternal, turns.StageGenerate, ctx.Err())
	default:
		genErr = turns.NewError(turns.KindBackendUnavailable, turns.StageGenerate, err)
	}

	log.Error().Err(err).
		Object("meta", r.md).
		Str("kind", genErr.Kind.String()).
		Msg("Generation failed, answering with fallback")

	return turns.GenerationResult{
		ResponseText: turns.FallbackMessage,
		Source:       source,
		Fallback:     true,
	}, genErr, nil
}

func (r *run) renderAvatar(ctx context.Context, response string) (string, *turns.Error) {
	req := r.p.render
	req.ScriptText = SpeechText(response)
	if req.ScriptText == "" {
		req.ScriptText = response
	}

	jobID, err := r.p.renderer.SubmitRender(ctx, req)
	if err != nil {
		return "", turns.NewError(turns.KindBackendUnavailable, turns.StageRender,
			errors.Wrap(err, "submitting render job"))
	}
	r.emit(events.NewRenderSubmittedEvent(r.md, jobID))

	url, err := r.p.waiter.AwaitCompletion(ctx, jobID)
	switch {
	case err == nil:
		return url, nil
	case errors.Is(err, polling.ErrTimeout):
		return "", turns.NewError(turns.KindTimeout, turns.StageRender, err)
	default:
		return "", turns.NewError(turns.KindBackendUnavailable, turns.StageRender,
			errors.Wrapf(err, "awaiting render job %s", jobID))
	}
}
