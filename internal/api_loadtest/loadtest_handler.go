package api_loadtest

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/wolftax/oferta_tools/internal/constant"
	"github.com/wolftax/oferta_tools/internal/service"
)

type LoadTestHandler struct {
	loadTestService service.LoadTestService
}

// RegisterLoadTestHandler wires the load test endpoints into the package
// registry.
func RegisterLoadTestHandler(srv service.LoadTestService) {
	registerHandler(&LoadTestHandler{loadTestService: srv})
}

func (h *LoadTestHandler) RegisterRoutes(router fiber.Router) {
	lt := router.Group("/loadtest")
	lt.Post("/start", h.Start)
	lt.Post("/stop", h.Stop)
	lt.Get("/status", h.Status)
	lt.Get("/runs", h.ListRuns)
	lt.Get("/runs/:id", h.GetRun)
}

func (h *LoadTestHandler) Start(c *fiber.Ctx) error {
	opts := new(service.LoadTestOptions)
	if err := c.BodyParser(opts); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	run, err := h.loadTestService.Start(opts)
	if err != nil {
		return fail(c, constant.GetErrorCode(err), err.Error())
	}
	return c.JSON(&service.Response{Data: run})
}

func (h *LoadTestHandler) Stop(c *fiber.Ctx) error {
	if err := h.loadTestService.Stop(); err != nil {
		return fail(c, constant.GetErrorCode(err), err.Error())
	}
	return c.JSON(&service.Response{Message: "stopping"})
}

func (h *LoadTestHandler) Status(c *fiber.Ctx) error {
	return c.JSON(&service.Response{Data: h.loadTestService.Status()})
}

func (h *LoadTestHandler) ListRuns(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 20)
	runs, total, err := h.loadTestService.ListRuns(offset, limit)
	if err != nil {
		return fail(c, constant.GetErrorCode(err), err.Error())
	}
	return c.JSON(&service.Response{Data: &service.ListResponse{
		Total:  total,
		Offset: offset,
		Limit:  limit,
		Items:  runs,
	}})
}

func (h *LoadTestHandler) GetRun(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid run id")
	}
	detail, err := h.loadTestService.GetRun(id)
	if err != nil {
		if errors.Is(err, constant.ErrNotFound) {
			return fail(c, fiber.StatusNotFound, "test run not found")
		}
		return fail(c, constant.GetErrorCode(err), err.Error())
	}
	return c.JSON(&service.Response{Data: detail})
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(&service.Response{Code: status, Message: message})
}
