package registrationHandler

import (
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/registration"
	contextPkg "github.com/AbdullahRaoo/magicqc-op-sub001/pkg/context"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/handlerUtil"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/response"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/net/context"
)

func (h *RegistrationHandler) StartRegistration(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 20*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"path":       ctx.Path(),
	}).Debug("Processing registration start request")

	var req registration.StartRegistrationRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errHandler.Handle(ctx, requestID, fiber.NewError(fiber.StatusBadRequest, err.Error()), ctx.Path(), "parse_request_body")
	}

	if err := h.validator.Struct(req); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	res, err := h.registrationService.StartRegistration(c, req)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "start_registration")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, response.OK("Registration started", res))
	}
}

func (h *RegistrationHandler) GetStatus(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 5*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	status, err := h.registrationService.GetStatus(c)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "get_registration_status")
	}

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, status)
}

func (h *RegistrationHandler) CancelRegistration(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 15*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	record, err := h.registrationService.CancelRegistration(c)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "cancel_registration")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, response.OK("Registration cancelled", record))
	}
}
