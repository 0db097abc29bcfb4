// Package api is the HTTP surface of the gateway: the public pay routes and
// the admin JSON API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"payportal/internal/usecase"
)

// Limiter is a shared fixed-window counter.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Options struct {
	BasePath       string
	APIKey         string
	Auth           *AuthManager // nil disables session tokens
	Limiter        Limiter      // nil disables confirm rate limiting
	ConfirmLimit   int          // confirms per minute per client and link
	RequestTimeout time.Duration
	Dev            bool
}

type Server struct {
	links        usecase.LinkUseCase
	billing      usecase.BillingUseCase
	basePath     string
	apiKey       string
	auth         *AuthManager
	limiter      Limiter
	confirmLimit int
	timeout      time.Duration
	dev          bool
	log          *zerolog.Logger
}

func NewServer(links usecase.LinkUseCase, billing usecase.BillingUseCase, opts Options, logger *zerolog.Logger) *Server {
	base := "/" + strings.Trim(opts.BasePath, "/")
	if base == "/" {
		base = "/pay"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	lg := logger.With().Str("component", "HTTPServer").Logger()
	return &Server{
		links:        links,
		billing:      billing,
		basePath:     base,
		apiKey:       opts.APIKey,
		auth:         opts.Auth,
		limiter:      opts.Limiter,
		confirmLimit: opts.ConfirmLimit,
		timeout:      opts.RequestTimeout,
		dev:          opts.Dev,
		log:          &lg,
	}
}

// Routes builds the full router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), Instrument(), RequestLog(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route(s.basePath, func(r chi.Router) {
		r.Use(Timeout(s.timeout))
		r.Get("/{id}", s.handleAccess)
		r.Get("/{id}/status", s.handleStatus)
		r.Post("/{id}/confirm", s.handleConfirm)
		r.Post("/{id}/subscribe", s.handleSubscribe)
		r.Get("/{id}/subscriptions/{address}", s.handleSubscription)
		r.Post("/{id}/subscriptions/{address}/charge", s.handleCharge)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(Timeout(s.timeout))
		r.Post("/session", s.handleSession)
		r.Group(func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Get("/links", s.listLinks)
			r.Post("/links", s.createLink)
			r.Get("/links/{id}", s.getLink)
			r.Delete("/links/{id}", s.deleteLink)
			r.Post("/links/{id}/disable", s.disableLink)
			r.Get("/links/{id}/payments", s.listPayments)
			r.Get("/payments", s.listPayments)
			r.Get("/subscriptions", s.listSubscriptions)
			r.Get("/subscriptions/{id}", s.getSubscription)
			r.Post("/subscriptions/{id}/{action}", s.transitionSubscription)
			r.Get("/stats", s.stats)
		})
	})
	return r
}

// Run serves on addr until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Str("base_path", s.basePath).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}
