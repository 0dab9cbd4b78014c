// Package server is the HTTP front of the asset cache: a small forward proxy
// that routes requests through the cache worker, plus control and health
// endpoints.
//
// Routes:
//
//	<absolute-form request>     proxied through the worker
//	GET  /fetch?url=<absolute>  proxied through the worker
//	POST /control/message       worker.HandleMessage (auth required)
//	GET  /control/status        worker.Status as JSON (auth required)
//	GET  /healthz /readyz /health
//
// Control routes are only mounted when an authenticator is configured.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/exaado/assetcache/auth"
	"github.com/exaado/assetcache/health"
	"github.com/exaado/assetcache/observe"
	"github.com/exaado/assetcache/worker"
)

// maxMessageBytes bounds a control message body.
const maxMessageBytes = 64 << 10

// Sentinel errors.
var (
	ErrNilWorker   = errors.New("server: worker is nil")
	ErrMissingURL  = errors.New("server: url parameter is required")
	ErrRelativeURL = errors.New("server: url must be absolute http(s)")
)

// Worker is what the server needs from the cache worker.
type Worker interface {
	http.RoundTripper
	HandleMessage(ctx context.Context, msg worker.Message) error
	Status(ctx context.Context) (worker.Status, error)
}

// Option configures a Server.
type Option func(*Server)

// WithAuth protects the control routes. Without it they are not served.
// A nil authz defaults to auth.NewRoleAuthorizer().
func WithAuth(authn auth.Authenticator, authz auth.Authorizer) Option {
	return func(s *Server) {
		s.authn = authn
		s.authz = authz
	}
}

// WithHealth mounts the health endpoints for agg.
func WithHealth(agg *health.Aggregator) Option {
	return func(s *Server) { s.health = agg }
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHandler mounts an extra handler, e.g. a metrics endpoint.
func WithHandler(pattern string, h http.Handler) Option {
	return func(s *Server) {
		s.extra = append(s.extra, route{pattern: pattern, handler: h})
	}
}

type route struct {
	pattern string
	handler http.Handler
}

// Server is an http.Handler.
//
// Contract:
//   - Concurrency: safe for concurrent use once constructed.
//   - Errors: upstream failures are answered with 502; they never reach the
//     caller as panics or dropped connections.
type Server struct {
	worker Worker
	authn  auth.Authenticator
	authz  auth.Authorizer
	health *health.Aggregator
	logger observe.Logger
	extra  []route

	mux *http.ServeMux
}

// New creates a Server routing proxied requests through w.
func New(w Worker, opts ...Option) (*Server, error) {
	if w == nil {
		return nil, ErrNilWorker
	}

	s := &Server{
		worker: w,
		logger: observe.NopLogger(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /fetch", s.handleFetch)

	if s.authn != nil {
		if s.authz == nil {
			s.authz = auth.NewRoleAuthorizer()
		}
		s.mux.Handle("POST /control/message",
			auth.Require(s.authn, s.authz, auth.ActionSendMessage)(http.HandlerFunc(s.handleMessage)))
		s.mux.Handle("GET /control/status",
			auth.Require(s.authn, s.authz, auth.ActionReadStatus)(http.HandlerFunc(s.handleStatus)))
	}

	if s.health != nil {
		health.RegisterHandlers(s.mux, s.health)
	}
	for _, r := range s.extra {
		s.mux.Handle(r.pattern, r.handler)
	}
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		http.Error(w, "CONNECT is not supported", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.IsAbs() {
		s.proxy(w, r, r.URL)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	target, err := fetchTarget(r.URL.Query().Get("url"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	s.proxy(w, r, target)
}

func fetchTarget(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, ErrMissingURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRelativeURL, err)
	}
	if !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, ErrRelativeURL
	}
	return u, nil
}

// proxy forwards r to target through the worker and copies the response back.
func (s *Server) proxy(w http.ResponseWriter, r *http.Request, target *url.URL) {
	start := time.Now()
	ctx := r.Context()

	out := r.Clone(ctx)
	out.RequestURI = ""
	out.URL = target
	out.Host = target.Host
	if r.ContentLength == 0 {
		out.Body = nil
	}
	stripHopHeaders(out.Header)

	resp, err := s.worker.RoundTrip(out)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn(ctx, "proxy request failed",
			observe.F("url", target.String()),
			observe.F("error", err),
		)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	stripHopHeaders(resp.Header)
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	n, err := io.Copy(w, resp.Body)

	fields := []observe.Field{
		observe.F("url", target.String()),
		observe.F("status", resp.StatusCode),
		observe.F("bytes", n),
		observe.F("duration_ms", float64(time.Since(start).Microseconds())/1000),
	}
	if err != nil {
		s.logger.Debug(ctx, "copy response body failed", append(fields, observe.F("error", err))...)
		return
	}
	s.logger.Debug(ctx, "proxied", fields...)
}

// hopHeaders apply to a single connection and are not forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func stripHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	msg, err := worker.ParseMessage(data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	if err := s.worker.HandleMessage(ctx, msg); err != nil {
		status := messageStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error(ctx, "control message failed", observe.F("type", msg.Type), observe.F("error", err))
		}
		writeJSON(w, status, errorBody{Error: err.Error()})
		return
	}

	s.logger.Info(ctx, "control message handled",
		observe.F("type", msg.Type),
		observe.F("principal", auth.PrincipalFromContext(ctx)),
	)
	st, err := s.worker.Status(ctx)
	if err != nil {
		s.logger.Warn(ctx, "read status failed", observe.F("error", err))
	}
	writeJSON(w, http.StatusAccepted, st)
}

func messageStatus(err error) int {
	switch {
	case errors.Is(err, worker.ErrInvalidMessage), errors.Is(err, worker.ErrUnknownMessage):
		return http.StatusBadRequest
	case errors.Is(err, worker.ErrNotInstalled), errors.Is(err, worker.ErrClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.worker.Status(r.Context())
	if err != nil {
		s.logger.Warn(r.Context(), "read status failed", observe.F("error", err))
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var _ http.Handler = (*Server)(nil)
