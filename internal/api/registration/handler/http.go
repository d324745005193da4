package registrationHandler

import (
	registrationService "github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/registration/service"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type RegistrationHandler struct {
	log                 *logrus.Logger
	validator           *validator.Validate
	middleware          middleware.Middleware
	registrationService registrationService.IRegistrationService
}

func New(
	log *logrus.Logger,
	validate *validator.Validate,
	middleware middleware.Middleware,
	rs registrationService.IRegistrationService,
) *RegistrationHandler {
	return &RegistrationHandler{
		log:                 log,
		validator:           validate,
		middleware:          middleware,
		registrationService: rs,
	}
}

func (h *RegistrationHandler) Start(srv fiber.Router) {
	register := srv.Group("/register")
	register.Post("/start", h.middleware.NewRateLimiter, h.StartRegistration)
	register.Get("/status", h.GetStatus)
	register.Post("/cancel", h.CancelRegistration)
}
