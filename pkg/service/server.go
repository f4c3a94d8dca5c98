package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/auth"
	"github.com/theapemachine/a2a-core/pkg/errors"
	"github.com/theapemachine/a2a-core/pkg/knowledge"
	"github.com/theapemachine/a2a-core/pkg/metrics"
	"github.com/theapemachine/a2a-core/pkg/tasks"

	fiberadaptor "github.com/gofiber/fiber/v3/middleware/adaptor"
)

/*
Server exposes an agent over the A2A protocol: one JSON-RPC POST
endpoint, the agent card discovery document, health probes, and a
Prometheus scrape target.  Task methods are handled by the manager,
knowledge methods by the knowledge store; either may be absent when
the agent card does not declare the matching capability.
*/
type Server struct {
	app        *fiber.App
	card       *a2a.AgentCard
	manager    *tasks.Manager
	knowledge  *knowledge.Store
	authorizer auth.Authorizer
	limiter    *auth.RateLimiter
	addr       string
	basePath   string
	heartbeat  time.Duration
}

// ServerOption configures a Server during construction.
type ServerOption func(*Server)

func NewServer(card *a2a.AgentCard, options ...ServerOption) (*Server, error) {
	srv := &Server{
		card:      card,
		addr:      ":3210",
		basePath:  "/",
		heartbeat: DefaultHeartbeat,
	}

	for _, option := range options {
		option(srv)
	}

	if srv.card == nil {
		log.Error("cannot build server without an agent card")
		return nil, errors.ErrInternal.WithMessagef("server requires an agent card")
	}

	if srv.manager == nil {
		log.Error("cannot build server without a task manager")
		return nil, errors.ErrInternal.WithMessagef("server requires a task manager")
	}

	srv.app = fiber.New(fiber.Config{
		AppName:           srv.card.Name,
		ServerHeader:      "A2A-Agent-Server",
		StreamRequestBody: true,
	})

	srv.routes()

	return srv, nil
}

func WithManager(manager *tasks.Manager) ServerOption {
	return func(srv *Server) {
		srv.manager = manager
	}
}

func WithKnowledge(store *knowledge.Store) ServerOption {
	return func(srv *Server) {
		srv.knowledge = store
	}
}

func WithAddr(addr string) ServerOption {
	return func(srv *Server) {
		srv.addr = addr
	}
}

// WithBasePath moves the JSON-RPC endpoint off the root path.
func WithBasePath(path string) ServerOption {
	return func(srv *Server) {
		if path != "" {
			srv.basePath = path
		}
	}
}

// WithAuth guards the RPC endpoint with an authorizer and an optional
// rate limiter.  Discovery and health endpoints stay open.
func WithAuth(authorizer auth.Authorizer, limiter *auth.RateLimiter) ServerOption {
	return func(srv *Server) {
		srv.authorizer = authorizer
		srv.limiter = limiter
	}
}

// WithHeartbeat overrides the keep-alive interval on streaming
// responses.  Tests shorten it to keep assertions fast.
func WithHeartbeat(interval time.Duration) ServerOption {
	return func(srv *Server) {
		srv.heartbeat = interval
	}
}

func (srv *Server) routes() {
	srv.app.Use(logger.New(logger.Config{
		Next: func(ctx fiber.Ctx) bool {
			// Scrapes and probes drown out the request log.
			return ctx.Path() == "/metrics" ||
				ctx.Path() == healthcheck.LivenessEndpoint ||
				ctx.Path() == healthcheck.ReadinessEndpoint
		},
	}))

	srv.app.Get(healthcheck.LivenessEndpoint, healthcheck.New())
	srv.app.Get(healthcheck.ReadinessEndpoint, healthcheck.New())
	srv.app.Get(a2a.AgentCardPath, srv.handleAgentCard)
	srv.app.Get("/metrics", fiberadaptor.HTTPHandler(metrics.Handler()))

	guards := make([]fiber.Handler, 0, 1)

	if srv.authorizer != nil || srv.limiter != nil {
		guards = append(guards, auth.Middleware(srv.authorizer, srv.limiter))
	}

	srv.app.Post(srv.basePath, srv.handleRPC, guards...)
}

// handleAgentCard serves the discovery document describing this agent,
// its skills, and its declared capabilities.
func (srv *Server) handleAgentCard(ctx fiber.Ctx) error {
	return ctx.JSON(srv.card)
}

// Manager exposes the task manager backing this server.
func (srv *Server) Manager() *tasks.Manager {
	return srv.manager
}

// Start blocks serving requests until the listener fails or the server
// is shut down.
func (srv *Server) Start() error {
	log.Info("starting agent server", "agent", srv.card.Name, "addr", srv.addr, "path", srv.basePath)

	return srv.app.Listen(srv.addr, fiber.ListenConfig{
		DisableStartupMessage: true,
	})
}

// Shutdown drains in-flight requests and stops the listener.
func (srv *Server) Shutdown(ctx context.Context) error {
	log.Info("stopping agent server", "agent", srv.card.Name)

	return srv.app.ShutdownWithContext(ctx)
}
