package turns

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies why a turn (or one of its stages) failed.
type Kind int

const (
	KindInternal Kind = iota
	// KindInput is a malformed turn or undecodable audio. Non-fatal to the session.
	KindInput
	// KindBackendUnavailable covers retrieval, transcription and rendering failures.
	KindBackendUnavailable
	// KindRateLimited is the shared token bucket rejecting the turn.
	KindRateLimited
	// KindRetriesExhausted is generation failing after all attempts.
	KindRetriesExhausted
	// KindTimeout is a render job not finishing within the polling budget.
	KindTimeout
	// KindDownstream is a non-retryable downstream status forwarded verbatim.
	KindDownstream
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindBackendUnavailable:
		return "backend-unavailable"
	case KindRateLimited:
		return "rate-limited"
	case KindRetriesExhausted:
		return "retries-exhausted"
	case KindTimeout:
		return "timeout"
	case KindDownstream:
		return "downstream"
	default:
		return "internal"
	}
}

type Stage string

const (
	StageDecode     Stage = "decode"
	StageAdmission  Stage = "admission"
	StageTranscribe Stage = "transcribe"
	StageRetrieve   Stage = "retrieve"
	StageGenerate   Stage = "generate"
	StageRender     Stage = "render"
	StageSession    Stage = "session"
)

const (
	BusyMessage     = "The service is currently busy. Please try again later."
	FallbackMessage = "I'm sorry, I encountered an issue. Can you please rephrase or try again?"
)

// Error is the classified failure of a turn. Err holds the full diagnostic
// chain for logging; PublicMessage is what may be shown to the peer.
type Error struct {
	Kind   Kind
	Stage  Stage
	Status int
	Detail string
	Err    error
}

func NewError(kind Kind, stage Stage, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s failure in %s stage", e.Kind, e.Stage)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the kind onto the HTTP-equivalent status of the stateless endpoint.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInput:
		return http.StatusBadRequest
	case KindBackendUnavailable:
		return http.StatusBadGateway
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindDownstream:
		if e.Status != 0 {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage never includes the wrapped error text, which may contain
// endpoints or keys. Only the downstream detail of KindDownstream is forwarded.
func (e *Error) PublicMessage() string {
	switch e.Kind {
	case KindInput:
		if e.Detail != "" {
			return e.Detail
		}
		return "Invalid message."
	case KindRateLimited:
		return BusyMessage
	case KindRetriesExhausted:
		return "Failed to process your request. Please try again later."
	case KindTimeout:
		return "Timeout waiting for avatar stream"
	case KindDownstream:
		if e.Detail != "" {
			return e.Detail
		}
		return "The language model rejected the request."
	case KindBackendUnavailable:
		switch e.Stage {
		case StageTranscribe:
			return "Could not transcribe the audio message."
		case StageRetrieve:
			return "The knowledge base is currently unavailable."
		case StageRender:
			return "Could not create the avatar response."
		}
		return "A required service is currently unavailable."
	default:
		return "An unexpected error occurred."
	}
}

// AsError extracts a *Error from err, classifying unknown errors as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Kind: KindInternal, Stage: StageSession, Err: err}
}

func IsKind(err error, kind Kind) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == kind
}

// InputError builds a peer-visible input error.
func InputError(detail string) *Error {
	return &Error{Kind: KindInput, Stage: StageDecode, Detail: detail, Err: errors.New(detail)}
}
