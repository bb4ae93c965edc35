// Package server exposes punchd's control API: user CRUD, the
// attendance log, manual cycle triggering, and health/metrics probes.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"punchd/internal/engine"
	"punchd/internal/provider"
	"punchd/internal/punch"
	"punchd/internal/secret"
	"punchd/internal/store"
	logx "punchd/pkg/logx"
)

type Config struct {
	Addr string
	// RequestsPerMinute caps API calls per client IP. Zero disables
	// rate limiting.
	RequestsPerMinute int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
}

// UserStore is the slice of the user store the API needs.
type UserStore interface {
	ReadAll() ([]punch.User, error)
	Get(id string) (punch.User, error)
	Upsert(u punch.User) (punch.User, bool, error)
	Delete(id string) error
}

// CycleRunner triggers one automation cycle. The server acquires the
// run lock before calling it and releases it when the cycle returns.
type CycleRunner interface {
	RunCycle(ctx context.Context, source engine.Source)
}

type Server struct {
	cfg    Config
	log    logx.Logger
	users  UserStore
	recs   store.Records
	box    *secret.Box
	lock   *engine.Lock
	runner CycleRunner

	// prov is read per request so the health probe follows provider
	// swaps from config reloads instead of pinning the boot instance.
	prov func() provider.Provider

	validate *validator.Validate
	srv      *http.Server

	// runCtx outlives the triggering request so a manual cycle is not
	// cancelled when the client disconnects.
	runCtx context.Context
}

func New(cfg Config, users UserStore, recs store.Records, box *secret.Box, lock *engine.Lock, runner CycleRunner, prov func() provider.Provider, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:      cfg,
		log:      log,
		users:    users,
		recs:     recs,
		box:      box,
		lock:     lock,
		runner:   runner,
		prov:     prov,
		validate: validator.New(),
		runCtx:   context.Background(),
	}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.cfg.RequestsPerMinute > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RequestsPerMinute, time.Minute))
		}

		r.Get("/users", s.handleListUsers)
		r.Get("/users/{id}", s.handleGetUser)
		r.Put("/users/{id}", s.handlePutUser)
		r.Delete("/users/{id}", s.handleDeleteUser)

		r.Get("/records", s.handleListRecords)

		r.Post("/automation/run", s.handleRunCycle)
		r.Get("/automation/status", s.handleStatus)
	})
	return r
}

// Handler exposes the routed mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start serves until the listener fails or Stop is called. It blocks.
func (s *Server) Start() error {
	s.log.Info("http listening", logx.String("addr", s.cfg.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.srv.Shutdown(sctx)
}
