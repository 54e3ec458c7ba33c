package pipeline

import (
	"fmt"
	"strings"

	"github.com/go-go-golems/solace/pkg/turns"
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

// FormatContext renders retrieved documents in ranking order as
// "Title: <t>\nContent: <c>" blocks separated by blank lines.
func FormatContext(docs []turns.Document) string {
	blocks := make([]string, 0, len(docs))
	for _, d := range docs {
		blocks = append(blocks, fmt.Sprintf("Title: %s\nContent: %s", d.Title, d.Content))
	}
	return strings.Join(blocks, "\n\n")
}

// TokenCounter counts prompt tokens.
type TokenCounter interface {
	Count(text string) (int, error)
}

type tiktokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter returns a counter for the cl100k_base encoding used by the
// chat models.
func NewTokenCounter() (TokenCounter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, errors.Wrap(err, "loading cl100k_base tokenizer")
	}
	return &tiktokenCounter{codec: codec}, nil
}

func (t *tiktokenCounter) Count(text string) (int, error) {
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// TrimToTokenBudget keeps the longest ranking-order prefix of docs whose
// formatted context fits in budget tokens. A budget <= 0 keeps everything.
func TrimToTokenBudget(docs []turns.Document, budget int, counter TokenCounter) ([]turns.Document, error) {
	if budget <= 0 || counter == nil {
		return docs, nil
	}
	for n := len(docs); n > 0; n-- {
		count, err := counter.Count(FormatContext(docs[:n]))
		if err != nil {
			return nil, errors.Wrap(err, "counting context tokens")
		}
		if count <= budget {
			return docs[:n], nil
		}
	}
	return []turns.Document{}, nil
}
