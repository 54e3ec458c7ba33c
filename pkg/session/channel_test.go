package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/solace/pkg/events"
	"github.com/go-go-golems/solace/pkg/pipeline"
	"github.com/go-go-golems/solace/pkg/turns"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	inbound  [][]byte
	readErr  error
	writeErr error
	written  []string
	closed   bool
}

func newFakeConn(msgs ...string) *fakeConn {
	c := &fakeConn{readErr: ErrClosed}
	for _, m := range msgs {
		c.inbound = append(c.inbound, []byte(m))
	}
	return c
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		return nil, f.readErr
	}
	m := f.inbound[0]
	f.inbound = f.inbound[1:]
	return m, nil
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.written = append(f.written, string(b))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type scriptedRunner struct {
	results []func(t *turns.Turn, sinks []events.EventSink) (*pipeline.Result, error)
	turns   []*turns.Turn
}

func (s *scriptedRunner) Run(_ context.Context, t *turns.Turn, sinks ...events.EventSink) (*pipeline.Result, error) {
	i := len(s.turns)
	s.turns = append(s.turns, t)
	return s.results[i](t, sinks)
}

func respond(text string) func(*turns.Turn, []events.EventSink) (*pipeline.Result, error) {
	return func(t *turns.Turn, _ []events.EventSink) (*pipeline.Result, error) {
		return &pipeline.Result{
			TurnID:     t.ID,
			Generation: turns.GenerationResult{ResponseText: text, Source: turns.SourceGeneralKnowledge},
		}, nil
	}
}

func failWith(err error) func(*turns.Turn, []events.EventSink) (*pipeline.Result, error) {
	return func(*turns.Turn, []events.EventSink) (*pipeline.Result, error) {
		return nil, err
	}
}

func TestServe_ContinuesAfterTurnError(t *testing.T) {
	conn := newFakeConn(`{"text":"one"}`, `{"text":"two"}`)
	runner := &scriptedRunner{results: []func(*turns.Turn, []events.EventSink) (*pipeline.Result, error){
		failWith(turns.NewError(turns.KindBackendUnavailable, turns.StageRetrieve, errors.New("down"))),
		respond("hello"),
	}}

	err := New(conn, runner, WithSessionID("sess-1")).Serve(context.Background())
	require.NoError(t, err)

	require.Len(t, conn.written, 2)
	assert.Contains(t, conn.written[0], `"error"`)
	assert.NotContains(t, conn.written[0], "down")
	assert.JSONEq(t, `{"response":"hello","source":"general knowledge"}`, conn.written[1])
	assert.True(t, conn.closed)
	require.Len(t, runner.turns, 2)
	assert.Equal(t, "sess-1", runner.turns[0].SessionID)
	assert.Equal(t, "two", runner.turns[1].Input.Text)
}

func TestServe_TerminatePolicyStopsOnFailure(t *testing.T) {
	conn := newFakeConn(`{"text":"one"}`, `{"text":"two"}`)
	runner := &scriptedRunner{results: []func(*turns.Turn, []events.EventSink) (*pipeline.Result, error){
		failWith(turns.NewError(turns.KindTimeout, turns.StageRender, errors.New("slow"))),
		respond("never"),
	}}

	err := New(conn, runner, WithOnTurnError(Terminate)).Serve(context.Background())
	require.Error(t, err)
	assert.True(t, turns.IsKind(err, turns.KindTimeout))
	require.Len(t, conn.written, 1)
	assert.JSONEq(t, `{"error":"Timeout waiting for avatar stream"}`, conn.written[0])
	assert.Len(t, runner.turns, 1)
	assert.True(t, conn.closed)
}

func TestServe_PeerGoneBeforeResultIsWritten(t *testing.T) {
	conn := newFakeConn(`{"text":"one"}`, `{"text":"two"}`)
	conn.writeErr = ErrClosed
	runner := &scriptedRunner{results: []func(*turns.Turn, []events.EventSink) (*pipeline.Result, error){
		respond("hello"),
		respond("never"),
	}}

	err := New(conn, runner).Serve(context.Background())
	require.NoError(t, err)
	assert.Empty(t, conn.written)
	assert.Len(t, runner.turns, 1)
	assert.True(t, conn.closed)
}

func TestServe_CancelledDuringTurnDiscardsResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newFakeConn(`{"text":"one"}`, `{"text":"two"}`)
	runner := &scriptedRunner{results: []func(*turns.Turn, []events.EventSink) (*pipeline.Result, error){
		func(t *turns.Turn, sinks []events.EventSink) (*pipeline.Result, error) {
			cancel()
			return respond("too late")(t, sinks)
		},
		respond("never"),
	}}

	err := New(conn, runner).Serve(ctx)
	require.NoError(t, err)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Empty(t, conn.written)
	assert.True(t, conn.closed)
	assert.Len(t, runner.turns, 1)
}

func TestServe_MalformedInputKeepsSessionOpen(t *testing.T) {
	conn := newFakeConn(`{"nothing":true}`, `garbage`, `{"text":"hi"}`)
	runner := &scriptedRunner{results: []func(*turns.Turn, []events.EventSink) (*pipeline.Result, error){
		respond("hello"),
	}}

	err := New(conn, runner, WithOnTurnError(Terminate)).Serve(context.Background())
	require.NoError(t, err)
	require.Len(t, conn.written, 3)
	assert.Contains(t, conn.written[0], "audio_data")
	assert.Contains(t, conn.written[1], `"error"`)
	assert.Contains(t, conn.written[2], "hello")
	assert.Len(t, runner.turns, 1)
}

func TestServe_AudioResultCarriesTranscription(t *testing.T) {
	conn := newFakeConn(`{"audio_data":"UklGRg=="}`)
	runner := &scriptedRunner{results: []func(*turns.Turn, []events.EventSink) (*pipeline.Result, error){
		func(t *turns.Turn, _ []events.EventSink) (*pipeline.Result, error) {
			return &pipeline.Result{
				Transcription: "I can't sleep",
				Generation:    turns.GenerationResult{ResponseText: "Let's talk.", Source: turns.SourceKnowledgeBase},
				AvatarURL:     "https://cdn/x.mp4",
			}, nil
		},
	}}

	require.NoError(t, New(conn, runner).Serve(context.Background()))
	require.Len(t, conn.written, 1)
	assert.JSONEq(t, `{"transcription":"I can't sleep","response":"Let's talk.","source":"your custom knowledge base","avatar_url":"https://cdn/x.mp4"}`, conn.written[0])
	assert.Equal(t, turns.InputKindAudio, runner.turns[0].Input.Kind)
	assert.Equal(t, []byte("RIFF"), runner.turns[0].Input.Audio)
}

func TestServe_PartialsAreStreamedBeforeResult(t *testing.T) {
	conn := newFakeConn(`{"text":"hi"}`)
	runner := &scriptedRunner{results: []func(*turns.Turn, []events.EventSink) (*pipeline.Result, error){
		func(turn *turns.Turn, sinks []events.EventSink) (*pipeline.Result, error) {
			require.Len(t, sinks, 1)
			md := events.NewMetadata(turn)
			_ = sinks[0].PublishEvent(events.NewTurnStartedEvent(md, turns.InputKindText))
			return respond("hello")(turn, nil)
		},
	}}

	require.NoError(t, New(conn, runner, WithPartials(true)).Serve(context.Background()))
	require.Len(t, conn.written, 2)
	assert.Contains(t, conn.written[0], `"event":{"type":"turn-started"`)
	assert.Contains(t, conn.written[1], `"response":"hello"`)
}

func TestServe_WriteFailureTerminates(t *testing.T) {
	conn := newFakeConn(`{"text":"one"}`, `{"text":"two"}`)
	conn.writeErr = errors.New("broken pipe")
	runner := &scriptedRunner{results: []func(*turns.Turn, []events.EventSink) (*pipeline.Result, error){
		respond("a"), respond("b"),
	}}

	err := New(conn, runner).Serve(context.Background())
	require.Error(t, err)
	assert.Len(t, runner.turns, 1)
}

func TestServe_ReadErrorIsReported(t *testing.T) {
	conn := newFakeConn()
	conn.readErr = errors.New("tls: bad record")
	err := New(conn, &scriptedRunner{}).Serve(context.Background())
	require.Error(t, err)
	assert.True(t, conn.closed)
}

func TestParseOnTurnError(t *testing.T) {
	p, err := ParseOnTurnError("terminate")
	require.NoError(t, err)
	assert.Equal(t, Terminate, p)
	p, err = ParseOnTurnError("")
	require.NoError(t, err)
	assert.Equal(t, Continue, p)
	_, err = ParseOnTurnError("explode")
	assert.Error(t, err)
}

func TestWebsocketConn_RoundTrip(t *testing.T) {
	runner := &scriptedRunner{results: []func(*turns.Turn, []events.EventSink) (*pipeline.Result, error){
		respond("hello"),
	}}
	served := make(chan error, 1)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			served <- err
			return
		}
		served <- New(NewWebsocketConn(ws), runner).Serve(r.Context())
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, client.WriteJSON(map[string]string{"text": "I feel anxious"}))
	var out map[string]string
	require.NoError(t, client.ReadJSON(&out))
	assert.Equal(t, "hello", out["response"])

	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end after close")
	}
	_ = client.Close()
}
