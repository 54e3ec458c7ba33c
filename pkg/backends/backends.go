// Package backends defines the external collaborators a turn is orchestrated
// across. Each provider lives in its own subpackage.
package backends

import (
	"context"

	"github.com/go-go-golems/solace/pkg/turns"
)

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, encoding string) (string, error)
}

// Searcher queries the knowledge index. An empty result is not an error.
type Searcher interface {
	Search(ctx context.Context, q turns.SearchQuery) ([]turns.Document, error)
}

// Generator produces the response text. Non-success downstream responses
// are reported as *retry.StatusError so that they can be retried or
// forwarded verbatim.
type Generator interface {
	Generate(ctx context.Context, p turns.Prompt) (string, error)
}

// Renderer turns a script into a talking-avatar video, asynchronously.
type Renderer interface {
	SubmitRender(ctx context.Context, req turns.RenderRequest) (string, error)
	PollRender(ctx context.Context, jobID string) (turns.RenderJob, error)
}
