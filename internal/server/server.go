// Package server exposes the webhook and operational HTTP endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/textrelay/textrelay/internal/channel/twilio"
	"github.com/textrelay/textrelay/internal/relay"
	"github.com/textrelay/textrelay/pkg/observability"
)

// Config holds server configuration.
type Config struct {
	Port int
	// TwilioAuthToken enables webhook signature validation when set.
	TwilioAuthToken string
	// PublicURL is the externally visible webhook URL, needed for
	// signature validation behind proxies.
	PublicURL string
}

// Server hosts the Twilio webhook plus health and metrics endpoints.
type Server struct {
	cfg        Config
	relay      *relay.Relay
	health     *observability.HealthChecker
	log        *slog.Logger
	httpServer *http.Server
}

// New creates a Server.
func New(cfg Config, rel *relay.Relay, health *observability.HealthChecker, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, relay: rel, health: health, log: log}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)

	r.Post("/webhook/twilio", s.handleTwilioWebhook)

	r.Get("/health", observability.HealthHandler(s.health))
	r.Get("/health/live", observability.LivenessHandler())
	r.Get("/health/ready", observability.ReadinessHandler(s.health))
	r.Handle("/metrics", observability.MetricsHandler())

	return r
}

// Start runs the HTTP server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// handleTwilioWebhook accepts both SMS and WhatsApp posts. The webhook
// response is an empty TwiML document; the actual reply goes out through
// the REST client inside the relay.
func (s *Server) handleTwilioWebhook(w http.ResponseWriter, r *http.Request) {
	if !twilio.ValidateSignature(r, s.cfg.TwilioAuthToken, s.cfg.PublicURL) {
		s.log.Warn("rejected webhook with bad signature", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	in, err := twilio.ParseWebhook(r)
	if err != nil {
		s.log.Warn("rejected malformed webhook", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := s.relay.HandleChat(r.Context(), in); err != nil {
		s.log.Error("chat relay failed", "channel", in.Channel, "error", err)
		// Twilio retries on 5xx; a retry may succeed if the failure was
		// transient on the query or send side.
		http.Error(w, "relay failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(twilio.EmptyTwiML))
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		observability.RecordHTTPRequest(
			r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start))
	})
}
