package pipeline

import (
	"testing"

	"github.com/go-go-golems/solace/pkg/turns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatContext(t *testing.T) {
	assert.Equal(t, "Title: A\nContent: B", FormatContext([]turns.Document{{Title: "A", Content: "B"}}))
	assert.Equal(t, "Title: A\nContent: B\n\nTitle: C\nContent: D",
		FormatContext([]turns.Document{{Title: "A", Content: "B"}, {Title: "C", Content: "D"}}))
	assert.Equal(t, "", FormatContext(nil))
	assert.Equal(t, turns.SourceGeneralKnowledge, turns.SourceLabelFor(FormatContext([]turns.Document{})))
}

type lengthCounter struct{}

func (lengthCounter) Count(text string) (int, error) {
	return len(text), nil
}

func TestTrimToTokenBudget(t *testing.T) {
	docs := []turns.Document{{Title: "A", Content: "B"}, {Title: "C", Content: "D"}}
	one := len(FormatContext(docs[:1]))

	kept, err := TrimToTokenBudget(docs, one, lengthCounter{})
	require.NoError(t, err)
	assert.Equal(t, docs[:1], kept)

	kept, err = TrimToTokenBudget(docs, 0, lengthCounter{})
	require.NoError(t, err)
	assert.Equal(t, docs, kept)

	kept, err = TrimToTokenBudget(docs, 1, lengthCounter{})
	require.NoError(t, err)
	assert.Empty(t, kept)
}

func TestTiktokenCounter(t *testing.T) {
	counter, err := NewTokenCounter()
	require.NoError(t, err)
	n, err := counter.Count("I feel anxious")
	require.NoError(t, err)
	assert.Greater(t, n, 0)
	assert.Less(t, n, 10)
}

func TestSpeechText(t *testing.T) {
	assert.Equal(t, "Take a deep breath.", SpeechText("Take a *deep* breath."))
	assert.Equal(t, "Steps: Breathe in. Breathe out.", SpeechText("# Steps:\n\n1. Breathe in.\n2. Breathe out."))
	assert.Equal(t, "See our guide for more.", SpeechText("See [our guide](https://example.com) for more."))
	assert.Equal(t, "", SpeechText(""))
}

func TestPromptTemplates(t *testing.T) {
	p, err := SpeechPrompt.Render(PromptData{Context: "Title: A\nContent: B", Message: "hello"})
	require.NoError(t, err)
	assert.Contains(t, p.User, "Context:\nTitle: A\nContent: B\nUser: hello")
	assert.Contains(t, p.User, "2-3 sentences")

	p, err = QuestionPrompt.Render(PromptData{Context: "Title: A\nContent: B", Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Context: Title: A\nContent: B\nQuestion: hello", p.User)

	_, err = NewPromptTemplate("broken", "{{ .Nope", "")
	assert.Error(t, err)
}
