// Package server exposes the catalog and the run coordinator over HTTP.
package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"

	"github.com/meikuraledutech/workflow"
	"github.com/meikuraledutech/workflow/catalog"
	"github.com/meikuraledutech/workflow/coordinator"
)

const (
	HeaderOrgID          = "X-Org-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

type startBody struct {
	Input map[string]any `json:"input"`
}

// New builds the fiber app. The coordinator's workers are started by the caller.
func New(cat *catalog.Catalog, coord *coordinator.Coordinator) *fiber.App {
	app := fiber.New(fiber.Config{AppName: "workflowd"})

	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// ── Versions ──────────────────────────────────────────────────────
	// first draft of a new workflow
	app.Post("/workflows", func(c fiber.Ctx) error {
		v, err := cat.CreateDraft(c.Context(), "")
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(v)
	})

	app.Post("/workflows/:workflowId/versions", func(c fiber.Ctx) error {
		v, err := cat.CreateDraft(c.Context(), c.Params("workflowId"))
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(v)
	})

	app.Get("/workflows/:workflowId/versions", func(c fiber.Ctx) error {
		versions, err := cat.List(c.Context(), c.Params("workflowId"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(versions)
	})

	app.Get("/versions/:id", func(c fiber.Ctx) error {
		v, err := cat.Get(c.Context(), c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(v)
	})

	app.Put("/versions/:id/dag", func(c fiber.Ctx) error {
		var d workflow.Dag
		if err := c.Bind().JSON(&d); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
		v, err := cat.AttachDag(c.Context(), c.Params("id"), &d)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(v)
	})

	app.Post("/versions/:id/publish", func(c fiber.Ctx) error {
		v, err := cat.Publish(c.Context(), c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(v)
	})

	app.Post("/versions/:id/archive", func(c fiber.Ctx) error {
		v, err := cat.Archive(c.Context(), c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(v)
	})

	// ── DAG ───────────────────────────────────────────────────────────
	app.Post("/dag/validate", func(c fiber.Ctx) error {
		var d workflow.Dag
		if err := c.Bind().JSON(&d); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
		return c.JSON(workflow.Validate(&d))
	})

	// ── Runs ──────────────────────────────────────────────────────────
	app.Post("/workflows/:workflowId/runs", func(c fiber.Ctx) error {
		var body startBody
		if len(c.Body()) > 0 {
			if err := c.Bind().JSON(&body); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
			}
		}
		res, err := coord.Start(c.Context(), coordinator.StartRequest{
			WorkflowID:     c.Params("workflowId"),
			OrgID:          c.Get(HeaderOrgID),
			Input:          body.Input,
			IdempotencyKey: c.Get(HeaderIdempotencyKey),
		})
		if err != nil {
			return writeError(c, err)
		}
		status := fiber.StatusOK
		if res.Created {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(res)
	})

	app.Get("/runs/:id", func(c fiber.Ctx) error {
		snap, err := coord.Get(c.Context(), c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		// another org's run is reported as missing
		if org := c.Get(HeaderOrgID); org != "" && org != snap.Run.OrgID {
			return writeError(c, workflow.ErrRunNotFound)
		}
		return c.JSON(snap)
	})

	app.Post("/runs/:id/cancel", func(c fiber.Ctx) error {
		run, err := coord.Cancel(c.Context(), c.Params("id"), c.Get(HeaderOrgID))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(run)
	})

	return app
}

func writeError(c fiber.Ctx, err error) error {
	var verr *workflow.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "invalid dag", "errors": verr.Errors})
	case workflow.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case workflow.IsConflict(err):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, workflow.ErrInvalidDag), errors.Is(err, workflow.ErrCyclicGraph):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, workflow.ErrInvalidID):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}
