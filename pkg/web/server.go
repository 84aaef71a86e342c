// Package web exposes the tool dispatcher and the health document over
// HTTP.
package web

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/workflowhub/kbservice/pkg/snapshot"
	"github.com/workflowhub/kbservice/pkg/tools"
)

// clientIDHeader lets orchestration behind a trusted proxy override the
// rate-limit bucket; otherwise the remote IP is the client identifier.
const clientIDHeader = "X-Client-Id"

type Server struct {
	dispatcher *tools.Dispatcher
	snapshots  *snapshot.Manager
	logger     *slog.Logger
}

func NewServer(dispatcher *tools.Dispatcher, snapshots *snapshot.Manager, logger *slog.Logger) *Server {
	return &Server{
		dispatcher: dispatcher,
		snapshots:  snapshots,
		logger:     logger.With("module", "web"),
	}
}

func (s *Server) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Post("/tools", s.HandleToolCall)
	app.Get("/health", s.HandleHealth)

	return app
}

func (s *Server) Start(port int) error {
	return s.App().Listen(":" + strconv.Itoa(port))
}

// HandleToolCall decodes the envelope, dispatches, and maps the result onto
// HTTP. Validation failures are normal 200 responses; only envelope
// problems, rate limiting, and internal faults map to error statuses.
func (s *Server) HandleToolCall(c fiber.Ctx) error {
	var req tools.Request
	if err := c.Bind().JSON(&req); err != nil {
		return malformedRequest(c, "request body must be a JSON object with tool and parameters")
	}

	if req.Tool == "" {
		return malformedRequest(c, "tool name is required")
	}

	resp := s.dispatcher.Dispatch(c.Context(), s.clientID(c), req)

	if resp.Err != nil && resp.Err.Kind == tools.ErrKindRateLimited && resp.Err.RetryAfter != nil {
		c.Set("Retry-After", strconv.Itoa(*resp.Err.RetryAfter))
	}

	return c.Status(statusFor(resp.Err)).JSON(resp)
}

// HandleHealth reports the snapshot manager's view, for orchestration to
// detect a stalled refresh loop.
func (s *Server) HandleHealth(c fiber.Ctx) error {
	return c.JSON(s.snapshots.Health())
}

func (s *Server) clientID(c fiber.Ctx) string {
	if id := c.Get(clientIDHeader); id != "" {
		return id
	}

	return c.IP()
}

func statusFor(err *tools.Error) int {
	if err == nil {
		return fiber.StatusOK
	}

	switch err.Kind {
	case tools.ErrKindMalformedRequest, tools.ErrKindUnknownTool:
		return fiber.StatusBadRequest
	case tools.ErrKindRateLimited:
		return fiber.StatusTooManyRequests
	case tools.ErrKindInternalError, tools.ErrKindTimeout:
		return fiber.StatusInternalServerError
	default:
		// Tool-level outcomes (e.g. NotFound) stay 200 per the envelope
		// contract.
		return fiber.StatusOK
	}
}

func malformedRequest(c fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(tools.Response{
		Err: &tools.Error{
			Kind:    tools.ErrKindMalformedRequest,
			Message: message,
		},
	})
}
