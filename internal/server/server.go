package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"localmind/config"
	"localmind/internal/agent"
	"localmind/internal/inference"
	"localmind/internal/session"
	"localmind/internal/store"
	"localmind/internal/telemetry"
)

// Processor runs queries end to end. Satisfied by agent.Coordinator.
type Processor interface {
	Process(ctx context.Context, q agent.Query) (agent.RunResult, error)
	Status(runID string) (agent.RunStatus, bool)
	Cancel(runID string) bool
	Latest(sessionID string) (agent.RunResult, bool)
	Active() bool
}

// Server is the HTTP API.
type Server struct {
	echo      *echo.Echo
	cfg       *config.Config
	processor Processor
	provider  inference.Provider
	store     *store.Store
	sessions  session.Repository
	comp      *session.Compressor
	telemetry *telemetry.Telemetry
	rdb       *redis.Client
	secret    []byte
	logger    *log.Logger
}

// New wires routes and middleware. rdb may be nil; scheduler jobs then run
// without distributed locking.
func New(cfg *config.Config, processor Processor, provider inference.Provider, st *store.Store, sessions session.Repository, comp *session.Compressor, tel *telemetry.Telemetry, rdb *redis.Client) (*Server, error) {
	if cfg.Server.JWTSecret == "" {
		return nil, fmt.Errorf("server.jwt_secret is not configured")
	}
	s := &Server{
		cfg:       cfg,
		processor: processor,
		provider:  provider,
		store:     st,
		sessions:  sessions,
		comp:      comp,
		telemetry: tel,
		rdb:       rdb,
		secret:    []byte(cfg.Server.JWTSecret),
		logger:    log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
	}
	s.echo = s.buildEcho()
	return s, nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", s.healthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	auth := &AuthHandler{Store: s.store, Secret: s.secret}
	auth.Register(api.Group("/auth"))

	protected := api.Group("")
	protected.Use(EchoAuthMiddleware(s.secret))
	rh := &RunsHandler{Processor: s.processor, Store: s.store, Sessions: s.sessions, Compressor: s.comp, SessionCfg: s.cfg.Session}
	rh.Register(protected)
	sh := &SessionsHandler{Sessions: s.sessions}
	sh.Register(protected)

	return e
}

// Start runs the server and the background scheduler until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	sched := &Scheduler{
		Cfg:       s.cfg.Scheduler,
		Provider:  s.provider,
		Store:     s.store,
		Sessions:  s.sessions,
		Comp:      s.comp,
		Rdb:       s.rdb,
		Telemetry: s.telemetry,
	}
	stop := sched.Start()
	defer stop()

	addr := s.cfg.Server.Address
	if addr == "" {
		addr = ":8090"
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.echo.Start(addr) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.echo.Shutdown(context.Background())
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) healthz(c echo.Context) error {
	resp := map[string]string{"status": "ok", "provider": s.provider.Name()}
	timeout := s.cfg.General.DefaultTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()
	if err := s.provider.Ping(ctx); err != nil {
		resp["status"] = "degraded"
		resp["provider_error"] = err.Error()
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
