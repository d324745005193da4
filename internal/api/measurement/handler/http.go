package measurementHandler

import (
	measurementService "github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/measurement/service"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type MeasurementHandler struct {
	log                *logrus.Logger
	validator          *validator.Validate
	middleware         middleware.Middleware
	measurementService measurementService.IMeasurementService
}

func New(
	log *logrus.Logger,
	validate *validator.Validate,
	middleware middleware.Middleware,
	ms measurementService.IMeasurementService,
) *MeasurementHandler {
	return &MeasurementHandler{
		log:                log,
		validator:          validate,
		middleware:         middleware,
		measurementService: ms,
	}
}

func (h *MeasurementHandler) Start(srv fiber.Router) {
	measurement := srv.Group("/measurement")
	measurement.Post("/start", h.middleware.NewRateLimiter, h.StartMeasurement)
	measurement.Post("/stop", h.StopMeasurement)
	measurement.Get("/status", h.GetStatus)

	srv.Get("/annotations/list", h.ListAnnotations)
	srv.Get("/annotation/:size/measurements", h.GetAnnotationMeasurements)
	srv.Post("/annotations/export", h.middleware.NewRateLimiter, h.ExportAnnotation)
}
