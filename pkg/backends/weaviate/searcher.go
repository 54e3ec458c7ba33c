package weaviate

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/go-go-golems/solace/pkg/backends"
	"github.com/go-go-golems/solace/pkg/turns"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
)

type Settings struct {
	// Endpoint is the base URL of the instance, e.g. https://kb.weaviate.network
	Endpoint string
	APIKey   string
	// ClassName is the collection holding the knowledge base documents.
	ClassName string
}

// Searcher runs a BM25 keyword query over the title and content properties.
type Searcher struct {
	client    *weaviate.Client
	className string
}

var _ backends.Searcher = (*Searcher)(nil)

func NewSearcher(s Settings) (*Searcher, error) {
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "invalid weaviate endpoint")
	}
	if u.Host == "" {
		return nil, errors.Errorf("weaviate endpoint %q has no host", s.Endpoint)
	}
	if s.ClassName == "" {
		return nil, errors.New("missing weaviate class name")
	}

	headers := map[string]string{}
	if s.APIKey != "" {
		headers["Authorization"] = "Bearer " + s.APIKey
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:    u.Host,
		Scheme:  u.Scheme,
		Headers: headers,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create weaviate client")
	}

	return &Searcher{client: client, className: s.ClassName}, nil
}

func (s *Searcher) Search(ctx context.Context, q turns.SearchQuery) ([]turns.Document, error) {
	properties := q.Fields
	if len(properties) == 0 {
		properties = turns.DefaultSearchFields
	}
	fields := make([]graphql.Field, 0, len(properties))
	for _, p := range properties {
		fields = append(fields, graphql.Field{Name: p})
	}

	bm25 := s.client.GraphQL().Bm25ArgBuilder().
		WithQuery(q.Text).
		WithProperties(properties...)

	get := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(fields...).
		WithBM25(bm25)
	if q.TopK > 0 {
		get = get.WithLimit(q.TopK)
	}

	result, err := get.Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "weaviate query failed")
	}
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		return nil, errors.Errorf("weaviate query returned errors: %s", strings.Join(msgs, "; "))
	}

	b, err := json.Marshal(result.Data)
	if err != nil {
		return nil, errors.Wrap(err, "marshal weaviate response")
	}
	docs, err := decodeDocuments(b, s.className)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("class", s.className).Int("hits", len(docs)).Msg("Weaviate search finished")
	return docs, nil
}

func decodeDocuments(data []byte, className string) ([]turns.Document, error) {
	var typed struct {
		Get map[string][]turns.Document `json:"Get"`
	}
	if err := json.Unmarshal(data, &typed); err != nil {
		return nil, errors.Wrap(err, "unmarshal weaviate response")
	}
	docs := typed.Get[className]
	if docs == nil {
		return []turns.Document{}, nil
	}
	return docs, nil
}
