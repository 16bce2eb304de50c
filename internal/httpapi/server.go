// Package httpapi exposes the operator-facing HTTP surface: health and
// Prometheus endpoints, and an ad-hoc /udfrun debugging endpoint that runs
// one event through a connection's function chain without touching the bus.
package httpapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/arc-self/rotor/internal/chain"
	"github.com/arc-self/rotor/internal/executor"
	"github.com/arc-self/rotor/internal/kvstore"
	internalmw "github.com/arc-self/rotor/internal/middleware"
	"github.com/arc-self/rotor/internal/model"
)

const serviceName = "rotor"

// ConnectionResolver is the subset of the config store the server needs.
type ConnectionResolver interface {
	GetEnrichedConnection(ctx context.Context, id string) (*model.Connection, error)
}

// Server wires the rotor's HTTP surface.
type Server struct {
	connections ConnectionResolver
	chainDeps   chain.Deps
	kvBackend   kvstore.Backend
	system      model.SystemContext
	log         *zap.Logger

	echo *echo.Echo
}

// New builds a Server and registers its routes.
func New(
	connections ConnectionResolver,
	chainDeps chain.Deps,
	kvBackend kvstore.Backend,
	system model.SystemContext,
	log *zap.Logger,
) *Server {
	s := &Server{
		connections: connections,
		chainDeps:   chainDeps,
		kvBackend:   kvBackend,
		system:      system,
		log:         log,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware(serviceName))
	e.Use(echomw.Recover())
	e.Use(internalmw.NullToEmptyArray())

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.POST("/udfrun", s.handleUDFRun, operatorContext)

	s.echo = e
	return s
}

// operatorContext lifts the operator identity injected by the gateway
// (X-User-Id/X-Org-Id headers) into the request context, so debug endpoints
// can attribute manual runs to whoever triggered them.
func operatorContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if uid := c.Request().Header.Get("X-User-Id"); uid != "" {
			ctx = internalmw.WithUserID(ctx, uid)
		}
		if oid := c.Request().Header.Get("X-Org-Id"); oid != "" {
			ctx = internalmw.WithOrgID(ctx, oid)
		}
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// Echo returns the underlying *echo.Echo for Start/Shutdown.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// udfRunRequest is the /udfrun request body: a connection id, an event to
// run through its chain, and an optional allow-list restricting which
// declared function ids actually execute.
type udfRunRequest struct {
	ConnectionID string       `json:"connectionId"`
	Event        model.Event  `json:"event"`
	Functions    []string     `json:"functions,omitempty"`
}

// udfRunResponse reports the chain's final event set and its execution log.
type udfRunResponse struct {
	Events []*model.Event      `json:"events"`
	Log    model.ExecutionLog  `json:"log"`
}

func (s *Server) handleUDFRun(c echo.Context) error {
	var req udfRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request body"})
	}

	ctx := c.Request().Context()
	conn, err := s.connections.GetEnrichedConnection(ctx, req.ConnectionID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}

	if userID, ok := internalmw.GetUserID(ctx); ok {
		s.log.Info("manual chain run",
			zap.String("userId", userID),
			zap.String("connectionId", conn.ID))
	}

	var filter chain.Filter
	if len(req.Functions) > 0 {
		allowed := make(map[string]bool, len(req.Functions))
		for _, id := range req.Functions {
			allowed[id] = true
		}
		filter = func(id string) bool { return allowed[id] }
	}

	steps, err := chain.Build(ctx, *conn, s.chainDeps, filter)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	store := kvstore.New(s.kvBackend, conn.ID)
	full := model.FullContext{
		Connection: *conn,
		Store:      store,
		EventCtx:   model.EventContext{Connection: model.ConnectionContext{ID: conn.ID, Mode: conn.Mode, Options: conn.Options}},
		System:     s.system,
	}

	result, log := executor.Run(ctx, steps, &req.Event, full)
	return c.JSON(http.StatusOK, udfRunResponse{Events: result.Events, Log: log})
}
