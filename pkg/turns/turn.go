package turns

import (
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// InputKind tags the two shapes a turn's raw input can take.
type InputKind string

const (
	InputKindText  InputKind = "text"
	InputKindAudio InputKind = "audio"
)

// DefaultAudioEncoding is what browsers record by default in the chat frontends.
const DefaultAudioEncoding = "wav"

// Input is the raw user input of a turn: either text or audio bytes.
type Input struct {
	Kind     InputKind
	Text     string
	Audio    []byte
	Encoding string
}

func TextInput(text string) Input {
	return Input{Kind: InputKindText, Text: text}
}

func AudioInput(audio []byte, encoding string) Input {
	if encoding == "" {
		encoding = DefaultAudioEncoding
	}
	return Input{Kind: InputKindAudio, Audio: audio, Encoding: encoding}
}

// DecodeAudioData decodes a base64 audio payload. Data-URI style payloads
// ("data:audio/wav;base64,AAAA") have everything up to the first comma stripped.
// The encoding is taken from the data-URI media type when present.
func DecodeAudioData(data string) (Input, error) {
	encoding := DefaultAudioEncoding
	payload := data
	if idx := strings.Index(data, ","); idx >= 0 {
		header := data[:idx]
		payload = data[idx+1:]
		if strings.HasPrefix(header, "data:") {
			mediaType := strings.TrimPrefix(header, "data:")
			mediaType, _, _ = strings.Cut(mediaType, ";")
			if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
				encoding = strings.TrimPrefix(sub, "x-")
			}
		}
	}

	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Input{}, NewError(KindInput, StageDecode, errors.New("audio payload is empty"))
	}

	audio, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Input{}, NewError(KindInput, StageDecode, errors.Wrap(err, "invalid base64 audio payload"))
	}

	return AudioInput(audio, encoding), nil
}

// Turn is one user interaction. It is immutable once created.
type Turn struct {
	ID        string
	SessionID string
	Input     Input
}

func NewTurn(sessionID string, input Input) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Input:     input,
	}
}

// Document is a single retrieval hit. Order of a []Document is the
// collaborator's relevance ranking.
type Document struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// SearchQuery is what the retrieval collaborator receives.
type SearchQuery struct {
	Text   string
	Fields []string
	TopK   int
}

var DefaultSearchFields = []string{"content", "title"}

// Prompt is a structured generation request. Backends that only take a
// single prompt string use Flatten.
type Prompt struct {
	System string
	User   string
}

func (p Prompt) Flatten() string {
	if p.System == "" {
		return p.User
	}
	if p.User == "" {
		return p.System
	}
	return p.System + "\n\n" + p.User
}

type SourceLabel string

const (
	SourceKnowledgeBase    SourceLabel = "your custom knowledge base"
	SourceGeneralKnowledge SourceLabel = "general knowledge"
)

// SourceLabelFor classifies a formatted context block.
func SourceLabelFor(contextBlock string) SourceLabel {
	if strings.TrimSpace(contextBlock) != "" {
		return SourceKnowledgeBase
	}
	return SourceGeneralKnowledge
}

type GenerationResult struct {
	ResponseText string
	Source       SourceLabel
	// Fallback is set when ResponseText is the apology text substituted for a failed generation.
	Fallback bool
}

type RenderStatus string

const (
	RenderPending RenderStatus = "pending"
	RenderDone    RenderStatus = "done"
	RenderFailed  RenderStatus = "failed"
)

type RenderJob struct {
	ID        string
	Status    RenderStatus
	ResultURL string
	// Detail carries the downstream description of a failed job, if any.
	Detail string
}

type RenderRequest struct {
	ScriptText    string
	VoiceProvider string
	VoiceID       string
	SourceURL     string
}
