package calibrationHandler

import (
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/calibration"
	contextPkg "github.com/AbdullahRaoo/magicqc-op-sub001/pkg/context"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/handlerUtil"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/response"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/net/context"
)

func (h *CalibrationHandler) StartCalibration(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 20*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"path":       ctx.Path(),
	}).Debug("Processing calibration start request")

	var req calibration.StartCalibrationRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errHandler.Handle(ctx, requestID, fiber.NewError(fiber.StatusBadRequest, err.Error()), ctx.Path(), "parse_request_body")
	}

	if err := h.validator.Struct(req); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	res, err := h.calibrationService.StartCalibration(c, req)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "start_calibration")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, response.OK("Calibration started", res))
	}
}

func (h *CalibrationHandler) GetStatus(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 5*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	status, err := h.calibrationService.GetStatus(c)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "get_calibration_status")
	}

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, status)
}

func (h *CalibrationHandler) CancelCalibration(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 15*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	record, err := h.calibrationService.CancelCalibration(c)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "cancel_calibration")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, response.OK("Calibration cancelled", record))
	}
}

func (h *CalibrationHandler) UploadCalibration(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 10*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	var req calibration.UploadCalibrationRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errHandler.Handle(ctx, requestID, fiber.NewError(fiber.StatusBadRequest, err.Error()), ctx.Path(), "parse_request_body")
	}

	if err := h.validator.Struct(req); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	doc, err := h.calibrationService.UploadCalibration(c, req)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "upload_calibration")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, response.OK("Calibration saved", doc))
	}
}
