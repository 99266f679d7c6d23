// Package v1 exposes the HTTP API: conversation CRUD, message thread
// operations, the SSE streaming chat endpoint, and artifact versioning.
package v1

import (
	"context"
	"net/http"
	"time"

	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/hrygo/loom/ai"
	"github.com/hrygo/loom/ai/metrics"
	"github.com/hrygo/loom/internal/profile"
	"github.com/hrygo/loom/server/auth"
	"github.com/hrygo/loom/server/router/api/v1/chat"
	"github.com/hrygo/loom/store"
)

type APIV1Service struct {
	Profile  *profile.Profile
	Store    *store.Store
	Sessions auth.SessionStore
	Exporter *metrics.Exporter

	thread     *chat.ThreadService
	artifacts  *chat.ArtifactService
	controller *chat.StreamController
}

// NewAPIV1Service wires the API against the store and the LLM stack.
func NewAPIV1Service(p *profile.Profile, s *store.Store) (*APIV1Service, error) {
	llm, err := ai.NewService(ai.ConfigFromProfile(p))
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize llm service")
	}

	// Warmup is best-effort and must not delay startup.
	if p.IsAIEnabled() {
		go func() {
			warmupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			llm.Warmup(warmupCtx)
		}()
	}

	titles := ai.NewTitleGenerator(ai.AuxConfigFromProfile(p))
	suggester := ai.NewSuggester(ai.AuxConfigFromProfile(p))
	exporter := metrics.NewExporter()

	thread := chat.NewThreadService(s)
	service := &APIV1Service{
		Profile:    p,
		Store:      s,
		Sessions:   auth.NewMemorySessionStore(time.Duration(p.SessionTTL) * time.Second),
		Exporter:   exporter,
		thread:     thread,
		artifacts:  chat.NewArtifactService(s),
		controller: chat.NewStreamController(s, thread, llm, titles, suggester, exporter),
	}
	return service, nil
}

// RegisterRoutes mounts all API routes on the echo instance.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	e.Validator = newValidator()

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": s.Profile.Version})
	})
	e.GET("/metrics", echo.WrapHandler(s.Exporter.Handler()))

	e.POST("/api/v1/sessions", s.createSession)

	api := e.Group("/api/v1")
	api.Use(s.sessionMiddleware())
	api.Use(rateLimitMiddleware())

	api.DELETE("/sessions", s.deleteSession)

	api.POST("/conversations", s.createConversation)
	api.GET("/conversations", s.listConversations)
	api.GET("/conversations/:id", s.getConversation)
	api.PATCH("/conversations/:id", s.updateConversation)
	api.DELETE("/conversations/:id", s.deleteConversation)
	api.POST("/conversations/:id/branch", s.branchConversation)
	api.POST("/conversations/:id/duplicate", s.duplicateConversation)
	api.GET("/conversations/:id/usage", s.listUsage)

	api.GET("/conversations/:id/messages", s.listMessages)
	api.POST("/conversations/:id/messages", s.streamMessage)
	api.PATCH("/messages/:id", s.editMessage)
	api.POST("/messages/:id/regenerate", s.regenerateMessage)
	api.GET("/messages/:id/variations", s.listVariations)

	api.GET("/conversations/:id/artifacts", s.listArtifacts)
	api.GET("/artifacts/:id", s.getArtifact)
	api.PATCH("/artifacts/:id", s.updateArtifact)
	api.GET("/artifacts/:id/versions", s.listArtifactVersions)
	api.POST("/artifacts/:id/revert", s.revertArtifact)
}

// sessionMiddleware requires a valid bearer token for everything behind it.
// Auth is disabled entirely in demo mode.
func (s *APIV1Service) sessionMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s.Profile.Mode == "demo" {
				return next(c)
			}
			token := bearerToken(c.Request())
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing session token")
			}
			if _, err := s.Sessions.Get(c.Request().Context(), token); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired session")
			}
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

// rateLimitMiddleware caps each client IP at a steady request rate. Turn
// streaming holds one request for its whole duration, so the burst stays
// generous.
func rateLimitMiddleware() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(10),
			Burst:     30,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}

// httpError maps the store error taxonomy onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidOperation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrUpstreamFailure):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		slog.Error("request failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
