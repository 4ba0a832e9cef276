package server

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/CZERTAINLY/jqplay/internal/model"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

type jqRequest struct {
	JSON    string   `json:"json"`
	Query   string   `json:"query"`
	Options []string `json:"options,omitempty"`
}

type jqResponse struct {
	Result string `json:"result"`
}

func (h *handler) postJQ(c *fiber.Ctx) error {
	var req jqRequest
	if err := c.App().Config().JSONDecoder(c.Body(), &req); err != nil {
		return validationFailed(c, model.NewValidationError(fmt.Sprintf("invalid request body: %v", err)))
	}
	options, err := model.ParseFlags(req.Options)
	if err != nil {
		return validationFailed(c, err)
	}
	return h.evaluate(c, req.JSON, req.Query, options)
}

// getJQ takes the same fields as query parameters, options comma separated.
// Query values alias the request buffer, which fiber reuses once the handler
// returns, and an evaluation may outlive the handler.
func (h *handler) getJQ(c *fiber.Ctx) error {
	options, err := model.SplitFlags(utils.CopyString(c.Query("options")))
	if err != nil {
		return validationFailed(c, err)
	}
	return h.evaluate(c, utils.CopyString(c.Query("json")), utils.CopyString(c.Query("query")), options)
}

func (h *handler) evaluate(c *fiber.Ctx, input, query string, options []model.Flag) error {
	if query == "" {
		return validationFailed(c, model.NewValidationError("Query must not be empty"))
	}
	req, err := model.NewExecutionRequest(input, query, options, h.cfg.RequestTimeout)
	if err != nil {
		return validationFailed(c, err)
	}

	out := h.executor.Submit(c.UserContext(), req)
	switch out.Kind {
	case model.OutcomeSuccess:
		return c.JSON(jqResponse{Result: out.Text})
	case model.OutcomeTimedOut:
		return c.Status(fiber.StatusRequestTimeout).JSON(fiber.Map{"error": msgTimedOut})
	default:
		slog.WarnContext(c.UserContext(), "evaluation failed", "request_id", req.ID, "reason", out.Reason)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": out.Err().Error()})
	}
}

type slugResponse struct {
	Slug string `json:"slug"`
}

func (h *handler) postSnippet(c *fiber.Ctx) error {
	var snip model.Snippet
	if err := c.App().Config().JSONDecoder(c.Body(), &snip); err != nil {
		return validationFailed(c, model.NewValidationError(fmt.Sprintf("invalid request body: %v", err)))
	}
	slug, err := h.snippets.Put(c.UserContext(), snip)
	switch {
	case errors.Is(err, model.ErrValidation):
		return validationFailed(c, err)
	case err != nil:
		slog.ErrorContext(c.UserContext(), "saving snippet failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"errors": []string{msgSnippetFailure}})
	}
	return c.JSON(slugResponse{Slug: slug})
}

func (h *handler) getSnippet(c *fiber.Ctx) error {
	slug := c.Params("slug")
	snip, err := h.snippets.Get(c.UserContext(), slug)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"errors": "Snippet not found"})
	case err != nil:
		slog.ErrorContext(c.UserContext(), "loading snippet failed", "slug", slug, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"errors": "Server error"})
	}
	return c.JSON(snip)
}

func validationFailed(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"errors": model.ValidationMessages(err)})
}
