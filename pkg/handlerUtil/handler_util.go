package handlerUtil

import (
	"errors"
	"net/http"
	"strings"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/calibration"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/measurement"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/registration"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/results"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/channel"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/supervisor"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/response"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/sirupsen/logrus"
)

type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

type domainError struct {
	err  error
	code string
}

// Known failures and the machine-readable code the UI switches on. The HTTP
// status comes from the response.Error itself.
var domainErrors = []domainError{
	{supervisor.ErrAlreadyRunning, "ALREADY_RUNNING"},
	{supervisor.ErrStartupTimeout, "STARTUP_TIMEOUT"},
	{supervisor.ErrStartCancelled, "START_CANCELLED"},
	{supervisor.ErrLaunchFailed, "LAUNCH_FAILED"},
	{supervisor.ErrProcessCrashed, "PROCESS_CRASHED"},
	{supervisor.ErrUnknownSlot, "UNKNOWN_SLOT"},
	{channel.ErrIOFailure, "IO_FAILURE"},
	{results.ErrNotFound, "NOT_FOUND"},
	{results.ErrReadFailed, "IO_FAILURE"},
	{measurement.ErrAnnotationNotFound, "ANNOTATION_NOT_FOUND"},
	{measurement.ErrInvalidImage, "INVALID_IMAGE"},
	{measurement.ErrInvalidGeometry, "INVALID_GEOMETRY"},
	{measurement.ErrInvalidRequest, "INVALID_REQUEST"},
	{calibration.ErrInvalidScale, "INVALID_SCALE"},
	{calibration.ErrCalibrationBusy, "CALIBRATION_BUSY"},
	{registration.ErrRegistrationExists, "ANNOTATION_EXISTS"},
}

type ErrorHandler struct {
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger,
	}
}

func (h *ErrorHandler) Handle(c *fiber.Ctx, requestID string, err error, path string, operation string) error {
	for _, known := range domainErrors {
		if !errors.Is(err, known.err) {
			continue
		}

		var respErr *response.Error
		errors.As(known.err, &respErr)

		fields := log.Fields{
			"request_id": requestID,
			"error":      err.Error(),
			"code":       known.code,
			"path":       path,
			"operation":  operation,
		}
		if respErr.Code >= http.StatusInternalServerError {
			h.logger.WithFields(fields).Error("Operation failed")
		} else {
			h.logger.WithFields(fields).Warn("Operation rejected")
		}

		return c.Status(respErr.Code).JSON(ErrorResponse{
			Status:  "error",
			Message: err.Error(),
			Code:    known.code,
		})
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return h.HandleValidationError(c, requestID, err, path)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		h.logger.WithFields(log.Fields{
			"request_id": requestID,
			"error":      err.Error(),
			"path":       path,
			"operation":  operation,
		}).Warn("Request rejected")
		return c.Status(fiberErr.Code).JSON(ErrorResponse{
			Status:  "error",
			Message: fiberErr.Message,
			Code:    codeFromStatus(fiberErr.Code),
		})
	}

	var respErr *response.Error
	if errors.As(err, &respErr) {
		h.logger.WithFields(log.Fields{
			"request_id": requestID,
			"error":      err.Error(),
			"code":       respErr.Code,
			"path":       path,
			"operation":  operation,
		}).Warn("Operation failed with error response")
		return c.Status(respErr.Code).JSON(ErrorResponse{
			Status:  "error",
			Message: err.Error(),
			Code:    codeFromStatus(respErr.Code),
		})
	}

	traceID := log.ErrorWithTraceID(log.Fields{
		"request_id": requestID,
		"error":      err.Error(),
		"path":       path,
		"operation":  operation,
	}, "Unexpected error")

	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Status:  "error",
		Message: "An unexpected error occurred",
		Code:    "INTERNAL_ERROR",
		TraceID: traceID,
	})
}

func (h *ErrorHandler) HandleValidationError(c *fiber.Ctx, requestID string, err error, path string) error {
	h.logger.WithFields(log.Fields{
		"request_id": requestID,
		"error":      err.Error(),
		"path":       path,
	}).Warn("Validation failed")

	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Status:  "error",
		Message: "Validation failed: " + err.Error(),
		Code:    "VALIDATION_ERROR",
	})
}

func (h *ErrorHandler) HandleRequestTimeout(c *fiber.Ctx) error {
	return c.Status(fiber.StatusRequestTimeout).JSON(ErrorResponse{
		Status:  "error",
		Message: utils.StatusMessage(fiber.StatusRequestTimeout),
		Code:    "REQUEST_TIMEOUT",
	})
}

func (h *ErrorHandler) HandleSuccess(c *fiber.Ctx, statusCode int, data interface{}) error {
	if data == nil {
		return c.SendStatus(statusCode)
	}
	return c.Status(statusCode).JSON(data)
}

// codeFromStatus turns 429 into TOO_MANY_REQUESTS and so on.
func codeFromStatus(status int) string {
	return strings.ToUpper(strings.ReplaceAll(utils.StatusMessage(status), " ", "_"))
}
