// Package ingress receives chat activities over HTTP and hands them to the
// dispatcher.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/standup/internal/observability"
	"github.com/harun/standup/internal/tracing"
	"github.com/harun/standup/pkg/channels"
)

const (
	defaultName      = "http"
	defaultPath      = "/api/messages"
	defaultPort      = 3978
	defaultRateLimit = 600
	defaultTimeout   = 30 * time.Second
	maxBodyBytes     = 1 << 20
)

// Options configures the server.
type Options struct {
	// Name is the channel name stamped on events.
	Name               string
	Host               string
	Port               int
	Path               string
	SharedSecret       string
	SignatureHeader    string
	RateLimitPerMinute int
	Timeout            time.Duration
	// MetricsPath serves Prometheus metrics when set.
	MetricsPath string
}

// ServiceURLRecorder learns where to reply for each conversation.
type ServiceURLRecorder interface {
	Remember(conversationID, serviceURL string)
}

// Server is the HTTP activity endpoint. It implements channels.Channel.
type Server struct {
	opts        Options
	urls        ServiceURLRecorder
	logger      zerolog.Logger
	rateLimiter *RateLimiter
	startTime   time.Time

	mu       sync.RWMutex
	handler  channels.Handler
	server   *http.Server
	addr     string
	shutdown bool

	inFlight sync.WaitGroup
}

var _ channels.Channel = (*Server)(nil)

// NewServer creates a server; urls may be nil.
func NewServer(opts Options, urls ServiceURLRecorder, logger zerolog.Logger) *Server {
	if opts.Name == "" {
		opts.Name = defaultName
	}
	if opts.Host == "" {
		opts.Host = "0.0.0.0"
	}
	if opts.Port == 0 {
		opts.Port = defaultPort
	}
	if opts.Path == "" {
		opts.Path = defaultPath
	}
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = DefaultSignatureHeader
	}
	if opts.RateLimitPerMinute <= 0 {
		opts.RateLimitPerMinute = defaultRateLimit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	return &Server{
		opts:        opts,
		urls:        urls,
		logger:      logger.With().Str("component", "ingress").Logger(),
		rateLimiter: NewRateLimiter(opts.RateLimitPerMinute),
		startTime:   time.Now(),
	}
}

// Name implements channels.Channel.
func (s *Server) Name() string { return s.opts.Name }

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Start binds the listener and serves in the background.
func (s *Server) Start(_ context.Context, h channels.Handler) error {
	if h == nil {
		return fmt.Errorf("handler is required")
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	s.handler = h
	s.addr = ln.Addr().String()
	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info().Str("addr", s.addr).Str("path", s.opts.Path).Msg("Starting activity server")

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Activity server stopped")
		}
	}()
	return nil
}

// Stop refuses new activities, waits for in-flight turns and closes the
// listener.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	srv := s.server
	s.mu.Unlock()

	s.logger.Info().Msg("Shutting down activity server")

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("All in-flight activities completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown deadline reached, forcing close")
	}

	s.rateLimiter.Stop()

	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown activity server: %w", err)
	}
	s.logger.Info().Msg("Activity server stopped")
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc(s.opts.Path, s.handleActivity)
	if s.opts.MetricsPath != "" {
		mux.Handle(s.opts.MetricsPath, observability.MetricsHandler())
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"channel":   s.opts.Name,
		"uptime":    time.Since(s.startTime).Seconds(),
		"timestamp": time.Now().UnixMilli(),
	})
}

// statusRecorder captures the status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleActivity(rw http.ResponseWriter, r *http.Request) {
	start := time.Now()
	w := &statusRecorder{ResponseWriter: rw, code: http.StatusOK}
	defer func() {
		observability.RecordIngressRequest(s.opts.Name, w.code, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	shuttingDown, handler := s.shutdown, s.handler
	s.mu.RUnlock()
	if shuttingDown || handler == nil {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	s.inFlight.Add(1)
	defer s.inFlight.Done()

	ip := clientIP(r)
	if !s.rateLimiter.Allow(ip) {
		retryAfter := s.rateLimiter.RetryAfter(ip)
		s.logger.Warn().Str("ip", ip).Int("retry_after", retryAfter).Msg("Rate limit exceeded")
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.logger.Warn().Err(err).Str("ip", ip).Msg("Failed to read activity body")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if s.opts.SharedSecret != "" {
		signature := r.Header.Get(s.opts.SignatureHeader)
		if signature == "" || !verifySignature(body, signature, s.opts.SharedSecret) {
			s.logger.Warn().Str("ip", ip).Bool("missing", signature == "").Msg("Rejected activity signature")
			observability.RecordSecurityAudit(r.Context(), "ingress.signature_rejected", ip, "denied", map[string]interface{}{
				"channel": s.opts.Name,
			})
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	activity, err := ParseActivity(body)
	if err != nil {
		s.logger.Warn().Err(err).Str("ip", ip).Msg("Rejected malformed activity")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if s.urls != nil && activity.ServiceURL != "" {
		s.urls.Remember(activity.Conversation.ID, activity.ServiceURL)
	}

	ev := activity.Event(s.opts.Name)
	logger := s.logger.With().
		Str("activity_id", ev.ID).
		Str("kind", string(ev.Kind)).
		Str("conversation_id", ev.ConversationID).
		Logger()

	if !ev.IsInvoke() {
		// The sender does not wait for the turn; answer now and keep the
		// turn alive past the request.
		s.inFlight.Add(1)
		go func() {
			defer s.inFlight.Done()
			ctx, cancel := context.WithTimeout(tracing.Detach(r.Context()), s.opts.Timeout)
			defer cancel()
			if _, err := handler.Handle(ctx, ev); err != nil {
				logger.Error().Err(err).Msg("Activity not handled")
			}
		}()
		w.WriteHeader(http.StatusAccepted)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.Timeout)
	defer cancel()

	resp, err := handler.Handle(ctx, ev)
	if err != nil {
		logger.Error().Err(err).Msg("Invoke not handled")
		if errors.Is(err, context.DeadlineExceeded) {
			http.Error(w, "Gateway Timeout", http.StatusGatewayTimeout)
			return
		}
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	status, payload := invokeBody(resp)
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
