// Package server exposes the turn pipelines over HTTP: the stateless
// question endpoint and the websocket chat channels.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/go-go-golems/solace/pkg/protocol"
	"github.com/go-go-golems/solace/pkg/session"
	"github.com/go-go-golems/solace/pkg/turns"
	"github.com/gorilla/websocket"
	"github.com/mb0/glob"
	"github.com/rs/zerolog/log"
)

// MaxMessageBytes bounds one inbound websocket message (base64 audio included).
const MaxMessageBytes = 16 << 20

type Server struct {
	chat     session.Runner
	avatar   session.Runner
	question session.Runner

	chatOptions   []session.Option
	avatarOptions []session.Option
	origins       []string

	upgrader websocket.Upgrader

	ctx      context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
}

type Option func(*Server)

// WithChat serves the text chat channel on GET /chat.
func WithChat(r session.Runner, opts ...session.Option) Option {
	return func(s *Server) {
		s.chat = r
		s.chatOptions = opts
	}
}

// WithAvatar serves the avatar chat channel on GET /avatar/chat.
func WithAvatar(r session.Runner, opts ...session.Option) Option {
	return func(s *Server) {
		s.avatar = r
		s.avatarOptions = opts
	}
}

// WithQuestion serves the stateless endpoint on POST /process_message.
func WithQuestion(r session.Runner) Option {
	return func(s *Server) {
		s.question = r
	}
}

// WithAllowedOrigins sets glob patterns for accepted Origin headers. "*"
// accepts every origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

func New(opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		origins: []string{"*"},
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(s)
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.question != nil {
		mux.HandleFunc("POST /process_message", s.handleProcessMessage)
	}
	if s.chat != nil {
		mux.HandleFunc("GET /chat", s.websocketHandler("chat", s.chat, s.chatOptions))
	}
	if s.avatar != nil {
		mux.HandleFunc("GET /avatar/chat", s.websocketHandler("avatar", s.avatar, s.avatarOptions))
	}
	return s.cors(mux)
}

// Close ends all open sessions and waits for them to finish.
func (s *Server) Close() {
	s.cancel()
	s.sessions.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProcessMessage(w http.ResponseWriter, r *http.Request) {
	var req protocol.ProcessMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxMessageBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorDetail{Detail: "Invalid request body. Expected {\"message\": string}."})
		return
	}

	res, err := s.question.Run(r.Context(), turns.NewTurn("", turns.TextInput(req.Message)))
	if err != nil {
		terr := turns.AsError(err)
		writeJSON(w, terr.HTTPStatus(), protocol.ErrorDetail{Detail: terr.PublicMessage()})
		return
	}

	writeJSON(w, http.StatusOK, protocol.ProcessMessageResponse{
		Response: res.Generation.ResponseText,
		Source:   string(res.Generation.Source),
	})
}

func (s *Server) websocketHandler(name string, runner session.Runner, opts []session.Option) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("channel", name).Msg("Websocket upgrade failed")
			return
		}
		ws.SetReadLimit(MaxMessageBytes)

		s.sessions.Add(1)
		defer s.sessions.Done()

		ch := session.New(session.NewWebsocketConn(ws), runner, opts...)
		log.Debug().Str("channel", name).Str("session_id", ch.ID()).Str("remote", r.RemoteAddr).Msg("Accepted websocket")
		if err := ch.Serve(s.ctx); err != nil {
			log.Warn().Err(err).Str("channel", name).Str("session_id", ch.ID()).Msg("Session ended with error")
		}
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, pattern := range s.origins {
		if pattern == "*" || strings.EqualFold(pattern, origin) {
			return true
		}
		ok, err := glob.Match(pattern, origin)
		if err != nil {
			log.Warn().Err(err).Str("pattern", pattern).Msg("Invalid origin pattern")
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				reqHeaders := r.Header.Get("Access-Control-Request-Headers")
				if reqHeaders == "" {
					reqHeaders = "Content-Type"
				}
				h.Set("Access-Control-Allow-Headers", reqHeaders)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
