package gemini

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-go-golems/solace/pkg/retry"
	genai "github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestResponseText_ConcatenatesTextParts(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("It is okay "), genai.Text("to feel this way. ")}},
		}},
	}
	assert.Equal(t, "It is okay to feel this way.", responseText(resp))
}

func TestResponseText_Empty(t *testing.T) {
	assert.Equal(t, "", responseText(nil))
	assert.Equal(t, "", responseText(&genai.GenerateContentResponse{}))
	assert.Equal(t, "", responseText(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}))
}

type codedErr struct{ code int }

func (c codedErr) Error() string { return "rpc error" }
func (c codedErr) HTTPCode() int { return c.code }

func TestAsStatusError(t *testing.T) {
	err := asStatusError(errors.Wrap(&googleapi.Error{Code: http.StatusTooManyRequests, Message: "Resource has been exhausted"}, "generate"))
	var se *retry.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Equal(t, "Resource has been exhausted", se.Detail)

	err = asStatusError(codedErr{code: 503})
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 503, se.Code)

	plain := errors.New("dial tcp: refused")
	assert.Equal(t, plain, asStatusError(plain))
}

func TestNewGenerator_RequiresKey(t *testing.T) {
	_, err := NewGenerator(context.Background(), Settings{})
	assert.Error(t, err)
}
