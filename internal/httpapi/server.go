// Package httpapi exposes the dispatcher and speech queue over a local JSON
// API. Handlers use the blocking wait mode of result channels.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/localvision/localvision/internal/inference"
	"github.com/localvision/localvision/internal/observability"
)

const maxUploadBytes = 32 << 20

// Dispatcher submits inference requests. *inference.Dispatcher implements it.
type Dispatcher interface {
	SubmitText(message string, history []inference.Interaction, ch *inference.ResultChannel) string
	SubmitImage(path string, ch *inference.ResultChannel) string
}

// Speaker is the speech queue. *speech.Manager implements it.
type Speaker interface {
	Speak(text string, interrupt bool)
	Stop()
	Enabled() bool
}

// Connection reports the current backend handle. *inference.Supervisor
// implements it.
type Connection interface {
	Current() *inference.Handle
}

// Server serves the API.
type Server struct {
	dispatcher Dispatcher
	speaker    Speaker
	conn       Connection
	metrics    *observability.Metrics
	logger     *log.Logger
	timeout    time.Duration
	uploadDir  string
}

// Option configures a Server.
type Option func(*Server)

// WithSpeaker enables the speech endpoints.
func WithSpeaker(s Speaker) Option {
	return func(srv *Server) { srv.speaker = s }
}

// WithConnection reports backend state on /healthz.
func WithConnection(c Connection) Option {
	return func(srv *Server) { srv.conn = c }
}

// WithMetrics serves /metrics from m.
func WithMetrics(m *observability.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(srv *Server) { srv.logger = l }
}

// WithTimeout bounds how long a request waits for its envelope.
func WithTimeout(d time.Duration) Option {
	return func(srv *Server) { srv.timeout = d }
}

// WithUploadDir sets where uploaded images are stored while described.
func WithUploadDir(dir string) Option {
	return func(srv *Server) { srv.uploadDir = dir }
}

// New creates a server.
func New(d Dispatcher, opts ...Option) *Server {
	s := &Server{
		dispatcher: d,
		logger:     log.Default(),
		timeout:    5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Post("/v1/chat", s.handleChat)
	r.Post("/v1/describe", s.handleDescribe)
	r.Post("/v1/speak", s.handleSpeak)
	r.Post("/v1/speech/stop", s.handleSpeechStop)

	return r
}

type chatRequest struct {
	Message string                  `json:"message"`
	History []inference.Interaction `json:"history,omitempty"`
	Speak   bool                    `json:"speak,omitempty"`
}

type describeRequest struct {
	Path  string `json:"path"`
	Speak bool   `json:"speak,omitempty"`
}

type speakRequest struct {
	Text      string `json:"text"`
	Interrupt bool   `json:"interrupt"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok", "connected": false}
	if s.conn != nil {
		if h := s.conn.Current(); h != nil {
			body["connected"] = true
			body["address"] = h.Address
			body["model"] = h.Model
		}
	}
	if s.speaker != nil {
		body["speech_enabled"] = s.speaker.Enabled()
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		respondError(w, http.StatusNotFound, "metrics_disabled", "metrics are not enabled")
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	ch := inference.NewResultChannel()
	s.dispatcher.SubmitText(req.Message, req.History, ch)
	s.deliver(w, r, ch, req.Speak)
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	var (
		path  string
		speak bool
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		uploaded, err := s.saveUpload(w, r)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
			return
		}
		defer os.Remove(uploaded) //nolint:errcheck
		path = uploaded
		speak = r.FormValue("speak") == "true"
	} else {
		var req describeRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if strings.TrimSpace(req.Path) == "" {
			respondError(w, http.StatusBadRequest, "invalid_request", "path is required")
			return
		}
		path, speak = req.Path, req.Speak
	}

	ch := inference.NewResultChannel()
	s.dispatcher.SubmitImage(path, ch)
	s.deliver(w, r, ch, speak)
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if s.speaker == nil {
		respondError(w, http.StatusNotImplemented, "speech_unavailable", "speech is not configured")
		return
	}
	var req speakRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.speaker.Speak(req.Text, req.Interrupt)
	respondJSON(w, http.StatusAccepted, map[string]any{"queued": req.Text != "" && s.speaker.Enabled()})
}

func (s *Server) handleSpeechStop(w http.ResponseWriter, _ *http.Request) {
	if s.speaker == nil {
		respondError(w, http.StatusNotImplemented, "speech_unavailable", "speech is not configured")
		return
	}
	s.speaker.Stop()
	respondJSON(w, http.StatusAccepted, map[string]any{"stopped": true})
}

// deliver waits for the single envelope of a request and writes it.
func (s *Server) deliver(w http.ResponseWriter, r *http.Request, ch *inference.ResultChannel, speak bool) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	env, err := ch.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			respondError(w, http.StatusGatewayTimeout, "timeout", "timed out waiting for the model")
			return
		}
		respondError(w, http.StatusServiceUnavailable, "cancelled", err.Error())
		return
	}

	if env.IsError() {
		respondJSON(w, http.StatusBadGateway, env)
		return
	}
	if speak && s.speaker != nil {
		s.speaker.Speak(env.Content, true)
	}
	respondJSON(w, http.StatusOK, env)
}

func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("image")
	if err != nil {
		return "", fmt.Errorf("image field: %w", err)
	}
	defer file.Close() //nolint:errcheck

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = ".png"
	}
	f, err := os.CreateTemp(s.uploadDir, "localvision-upload-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, file); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start),
		)
	})
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close() //nolint:errcheck
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
