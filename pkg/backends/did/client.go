package did

import (
	"bytes"
	"context"
	"encoding/json"
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

const (
	DefaultEndpoint      = "https://api.d-id.com"
	DefaultVoiceProvider = "microsoft"
	DefaultVoiceID       = "en-US-SaraNeural"
	DefaultSourceURL     = "https://create-images-results.d-id.com/api_docs/assets/noelle.jpeg"
)

// Client talks to the D-ID talks API.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ backends.Renderer = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.http = c
	}
}

func WithEndpoint(endpoint string) Option {
	return func(client *Client) {
		if endpoint != "" {
			client.endpoint = strings.TrimRight(endpoint, "/")
		}
	}
}

// NewClient takes the key as issued by D-ID; it is sent as Basic credentials.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint: DefaultEndpoint,
		apiKey:   apiKey,
		http:     http.DefaultClient,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type talkScript struct {
	Type     string        `json:"type"`
	Input    string        `json:"input"`
	Provider voiceProvider `json:"provider"`
}

type voiceProvider struct {
	Type    string `json:"type"`
	VoiceID string `json:"voice_id"`
}

type expression struct {
	Expression string  `json:"expression"`
	StartFrame int     `json:"start_frame"`
	Intensity  float64 `json:"intensity"`
}

type talkConfig struct {
	Fluent            bool `json:"fluent"`
	PadAudio          int  `json:"pad_audio"`
	DriverExpressions struct {
		Expressions []expression `json:"expressions"`
	} `json:"driver_expressions"`
}

type createTalkRequest struct {
	Script    talkScript `json:"script"`
	Config    talkConfig `json:"config"`
	SourceURL string     `json:"source_url"`
}

type talkResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
	Error     *struct {
		Kind        string `json:"kind"`
		Description string `json:"description"`
	} `json:"error,omitempty"`
}

func (c *Client) SubmitRender(ctx context.Context, r turns.RenderRequest) (string, error) {
	body := createTalkRequest{
		Script: talkScript{
			Type:  "text",
			Input: r.ScriptText,
			Provider: voiceProvider{
				Type:    orDefault(r.VoiceProvider, DefaultVoiceProvider),
				VoiceID: orDefault(r.VoiceID, DefaultVoiceID),
			},
		},
		SourceURL: orDefault(r.SourceURL, DefaultSourceURL),
	}
	body.Config.Fluent = true
	body.Config.DriverExpressions.Expressions = []expression{{Expression: "neutral"}}

	var resp talkResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint+"/talks", body, http.StatusCreated, &resp); err != nil {
		return "", errors.Wrap(err, "failed to create avatar talk")
	}
	if resp.ID == "" {
		return "", errors.New("avatar talk created without an id")
	}

	log.Debug().Str("talk_id", resp.ID).Msg("Created avatar talk")
	return resp.ID, nil
}

func (c *Client) PollRender(ctx context.Context, jobID string) (turns.RenderJob, error) {
	var resp talkResponse
	if err := c.do(ctx, http.MethodGet, c.endpoint+"/talks/"+url.PathEscape(jobID), nil, http.StatusOK, &resp); err != nil {
		return turns.RenderJob{}, err
	}

	job := turns.RenderJob{ID: jobID, ResultURL: resp.ResultURL, Status: mapStatus(resp.Status)}
	if resp.Error != nil {
		job.Detail = resp.Error.Description
	}
	return job, nil
}

func mapStatus(status string) turns.RenderStatus {
	switch strings.ToLower(status) {
	case "done":
		return turns.RenderDone
	case "error", "rejected":
		return turns.RenderFailed
	default:
		return turns.RenderPending
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, in interface{}, expected int, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Basic "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close D-ID response body")
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != expected {
		return &retry.StatusError{Code: resp.StatusCode, Detail: strings.TrimSpace(string(payload))}
	}
	return json.Unmarshal(payload, out)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
