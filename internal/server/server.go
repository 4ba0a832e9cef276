// Package server exposes the execution pool and the snippet store over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/CZERTAINLY/jqplay/internal/log"
	"github.com/CZERTAINLY/jqplay/internal/model"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
)

const (
	DefaultBodyLimit = 10 * 1024 * 1024

	msgTimedOut       = "Query execution timed out"
	msgSnippetFailure = "An unexpected error occurred while saving the snippet."
)

type Executor interface {
	Submit(ctx context.Context, req model.ExecutionRequest) model.Outcome
}

type Snippets interface {
	Put(ctx context.Context, s model.Snippet) (string, error)
	Get(ctx context.Context, slug string) (model.Snippet, error)
}

type Config struct {
	BodyLimit int
	// RequestTimeout bounds a single query evaluation.
	RequestTimeout time.Duration
}

type handler struct {
	cfg      Config
	executor Executor
	snippets Snippets
}

// New returns the fiber application serving the /api routes.
func New(cfg Config, executor Executor, snippets Snippets) *fiber.App {
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultBodyLimit
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = model.DefaultTimeout
	}
	h := &handler{cfg: cfg, executor: executor, snippets: snippets}

	app := fiber.New(fiber.Config{
		AppName:               "jqplay",
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(requestLogger)
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	api := app.Group("/api")
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	api.Post("/jq", h.postJQ)
	api.Get("/jq", h.getJQ)
	api.Post("/snippets", h.postSnippet)
	api.Get("/snippets/:slug", h.getSnippet)
	return app
}

// requestLogger tags the request context with a request id and logs every
// finished request.
func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	id := uuid.NewString()
	ctx := log.ContextAttrs(c.UserContext(), slog.String("request_id", id))
	c.SetUserContext(ctx)
	c.Set("X-Request-Id", id)

	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		status = fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
	}
	slog.InfoContext(ctx, "request",
		"method", c.Method(),
		"path", c.Path(),
		"status", status,
		"duration", time.Since(start),
	)
	return err
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		slog.ErrorContext(c.UserContext(), "request failed", "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
