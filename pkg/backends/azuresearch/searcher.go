package azuresearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-go-golems/solace/pkg/backends"
	"github.com/go-go-golems/solace/pkg/retry"
	"github.com/go-go-golems/solace/pkg/turns"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultAPIVersion = "2023-11-01"

type Settings struct {
	Endpoint   string
	Index      string
	APIKey     string
	APIVersion string
}

// Searcher queries an Azure AI Search index through its documents REST API.
type Searcher struct {
	settings Settings
	client   *http.Client
}

var _ backends.Searcher = (*Searcher)(nil)

type Option func(*Searcher)

func WithHTTPClient(client *http.Client) Option {
	return func(s *Searcher) {
		s.client = client
	}
}

func NewSearcher(settings Settings, opts ...Option) (*Searcher, error) {
	if settings.Endpoint == "" || settings.Index == "" {
		return nil, errors.New("azure search needs an endpoint and an index name")
	}
	if settings.APIVersion == "" {
		settings.APIVersion = DefaultAPIVersion
	}
	s := &Searcher{settings: settings, client: http.DefaultClient}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

type searchRequest struct {
	Search string `json:"search"`
	Select string `json:"select,omitempty"`
	Top    int    `json:"top,omitempty"`
}

type searchResponse struct {
	Value []map[string]interface{} `json:"value"`
}

func (s *Searcher) Search(ctx context.Context, q turns.SearchQuery) ([]turns.Document, error) {
	fields := q.Fields
	if len(fields) == 0 {
		fields = turns.DefaultSearchFields
	}
	body, err := json.Marshal(searchRequest{
		Search: q.Text,
		Select: strings.Join(fields, ","),
		Top:    q.TopK,
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s",
		strings.TrimRight(s.settings.Endpoint, "/"),
		url.PathEscape(s.settings.Index),
		url.QueryEscape(s.settings.APIVersion))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build search request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", s.settings.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "search request failed")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close search response body")
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read search response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &retry.StatusError{Code: resp.StatusCode, Detail: strings.TrimSpace(string(payload))}
	}

	var sr searchResponse
	if err := json.Unmarshal(payload, &sr); err != nil {
		return nil, errors.Wrap(err, "failed to decode search response")
	}

	docs := make([]turns.Document, 0, len(sr.Value))
	for _, v := range sr.Value {
		docs = append(docs, turns.Document{
			Title:   stringField(v, "title"),
			Content: stringField(v, "content"),
		})
	}
	return docs, nil
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
