// Package httpserver is the side server next to the bot: health checks,
// Prometheus metrics and read access to live transient photo references.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/vehicle-listing-bot/internal/photo"
)

const DefaultCheckTimeout = 3 * time.Second

var errNotFound = errors.New("not found")

// CheckFunc reports whether one dependency is usable.
type CheckFunc func(ctx context.Context) error

type Router struct {
	checks       map[string]CheckFunc
	checkTimeout time.Duration
	registry     *photo.Registry
	metrics      http.Handler
}

// Options configure the router. Registry and Metrics may be nil, the
// matching routes then answer 404.
type Options struct {
	Checks       map[string]CheckFunc
	CheckTimeout time.Duration
	Registry     *photo.Registry
	Metrics      http.Handler
}

func NewRouter(opts Options) http.Handler {
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = DefaultCheckTimeout
	}
	r := &Router{
		checks:       opts.Checks,
		checkTimeout: opts.CheckTimeout,
		registry:     opts.Registry,
		metrics:      opts.Metrics,
	}

	mux := chi.NewRouter()
	mux.Get("/health", r.wrap(r.handleHealth))
	mux.Get("/blob/{id}", r.wrap(r.handleBlob))
	if r.metrics != nil {
		mux.Handle("/metrics", r.metrics)
	}
	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			if errors.Is(err, errNotFound) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			log.Error().Err(err).Str("path", req.URL.Path).Msg("http handler failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]checkResult `json:"checks"`
}

// GET /health
// Every check runs with its own timeout. Any failure makes the response
// 503.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) error {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]checkResult, len(r.checks)),
	}

	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(req.Context(), r.checkTimeout)
		err := r.checks[name](ctx)
		cancel()
		if err != nil {
			resp.Status = "fail"
			resp.Checks[name] = checkResult{Status: "fail", Message: err.Error()}
			log.Warn().Err(err).Str("check", name).Msg("health check failed")
			continue
		}
		resp.Checks[name] = checkResult{Status: "ok"}
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	return json.NewEncoder(w).Encode(resp)
}

// GET /blob/{id}
func (r *Router) handleBlob(w http.ResponseWriter, req *http.Request) error {
	if r.registry == nil {
		return errNotFound
	}
	id := chi.URLParam(req, "id")
	data, mimeType, ok := r.registry.Open(id)
	if !ok {
		return fmt.Errorf("blob %s: %w", id, errNotFound)
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	_, err := w.Write(data)
	return err
}

// Serve runs handler on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil
	}
}
