package measurementHandler

import (
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/measurement"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	contextPkg "github.com/AbdullahRaoo/magicqc-op-sub001/pkg/context"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/handlerUtil"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/response"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/net/context"
)

func (h *MeasurementHandler) StartMeasurement(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 20*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"path":       ctx.Path(),
	}).Debug("Processing measurement start request")

	var req measurement.StartMeasurementRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errHandler.Handle(ctx, requestID, fiber.NewError(fiber.StatusBadRequest, err.Error()), ctx.Path(), "parse_request_body")
	}

	if err := h.validator.Struct(req); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	res, err := h.measurementService.StartMeasurement(c, req)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "start_measurement")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		h.log.WithFields(log.Fields{
			"request_id": requestID,
			"session_id": res.SessionID,
			"pid":        res.Process.PID,
			"source":     res.AnnotationSource,
		}).Info("Measurement started")
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, response.OK("Measurement started", res))
	}
}

func (h *MeasurementHandler) StopMeasurement(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 15*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	record, err := h.measurementService.StopMeasurement(c)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "stop_measurement")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, statusEnvelope(record))
	}
}

func (h *MeasurementHandler) GetStatus(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 5*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	record, err := h.measurementService.GetStatus(c)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "get_measurement_status")
	}

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, statusEnvelope(record))
}

func (h *MeasurementHandler) ListAnnotations(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 10*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	list, err := h.measurementService.ListAnnotations(c)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "list_annotations")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, response.OK("", list))
	}
}

func (h *MeasurementHandler) GetAnnotationMeasurements(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 10*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	size := ctx.Params("size")
	res, err := h.measurementService.GetAnnotationMeasurements(c, size)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "get_annotation_measurements")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, response.OK("", res))
	}
}

func statusEnvelope(record entity.ProcessRecord) measurement.StatusResponse {
	return measurement.StatusResponse{
		Running: record.Running,
		Status:  "success",
		Data:    record,
	}
}

func (h *MeasurementHandler) ExportAnnotation(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 10*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	var req measurement.ExportAnnotationRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errHandler.Handle(ctx, requestID, fiber.NewError(fiber.StatusBadRequest, err.Error()), ctx.Path(), "parse_request_body")
	}

	if err := h.validator.Struct(req); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	res, err := h.measurementService.ExportAnnotation(c, req)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "export_annotation")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, response.OK("Annotation exported", res))
	}
}
