package calibrationHandler

import (
	calibrationService "github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/calibration/service"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type CalibrationHandler struct {
	log                *logrus.Logger
	validator          *validator.Validate
	middleware         middleware.Middleware
	calibrationService calibrationService.ICalibrationService
}

func New(
	log *logrus.Logger,
	validate *validator.Validate,
	middleware middleware.Middleware,
	cs calibrationService.ICalibrationService,
) *CalibrationHandler {
	return &CalibrationHandler{
		log:                log,
		validator:          validate,
		middleware:         middleware,
		calibrationService: cs,
	}
}

func (h *CalibrationHandler) Start(srv fiber.Router) {
	calibration := srv.Group("/calibration")
	calibration.Post("/start", h.middleware.NewRateLimiter, h.StartCalibration)
	calibration.Get("/status", h.GetStatus)
	calibration.Post("/cancel", h.CancelCalibration)
	calibration.Post("/upload", h.middleware.NewRateLimiter, h.UploadCalibration)
}
