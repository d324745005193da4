package config

import (
	"fmt"
	"time"

	calibrationHandler "github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/calibration/handler"
	calibrationService "github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/calibration/service"
	measurementHandler "github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/measurement/handler"
	measurementService "github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/measurement/service"
	registrationHandler "github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/registration/handler"
	registrationService "github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/registration/service"
	resultsHandler "github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/results/handler"
	resultsService "github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/results/service"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/middleware"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/paths"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/supervisor"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/redis"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

type ServerOption func(*Server) error

type Server struct {
	engine       *fiber.App
	log          *logrus.Logger
	middleware   middleware.Middleware
	validator    *validator.Validate
	utils        utils.IUtils
	layout       *paths.Layout
	supervisor   *supervisor.Supervisor
	statusMirror redis.IRedis
	handlers     []handler
}

type handler interface {
	Start(srv fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.engine == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if server.middleware == nil {
		return nil, fmt.Errorf("middleware is required")
	}
	if server.layout == nil {
		return nil, fmt.Errorf("path layout is required")
	}
	if server.supervisor == nil {
		return nil, fmt.Errorf("supervisor is required")
	}
	if server.validator == nil {
		server.validator = NewValidator()
	}
	if server.utils == nil {
		server.utils = utils.New()
	}

	return server, nil
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithValidator(validator *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = validator
		return nil
	}
}

func WithMiddleware(requestsPerSecond float64, burst int) ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before middleware")
		}
		s.middleware = middleware.New(s.log, requestsPerSecond, burst)
		return nil
	}
}

func WithLayout(layout paths.Layout) ServerOption {
	return func(s *Server) error {
		s.layout = &layout
		return nil
	}
}

func WithSupervisor(sup *supervisor.Supervisor) ServerOption {
	return func(s *Server) error {
		s.supervisor = sup
		return nil
	}
}

// WithStatusMirror hands the server the mirror client so it is closed on
// shutdown. A nil client is allowed.
func WithStatusMirror(client redis.IRedis) ServerOption {
	return func(s *Server) error {
		s.statusMirror = client
		return nil
	}
}

func WithUtils() ServerOption {
	return func(s *Server) error {
		s.utils = utils.New()
		return nil
	}
}

func (s *Server) RegisterHandler() {
	// Measurement Domain
	measurementServices := measurementService.NewMeasurementService(s.log, *s.layout, s.supervisor, s.utils)
	measurementHandlers := measurementHandler.New(s.log, s.validator, s.middleware, measurementServices)

	// Calibration Domain
	calibrationServices := calibrationService.NewCalibrationService(s.log, *s.layout, s.supervisor, s.utils)
	calibrationHandlers := calibrationHandler.New(s.log, s.validator, s.middleware, calibrationServices)

	// Registration Domain
	registrationServices := registrationService.NewRegistrationService(s.log, *s.layout, s.supervisor, s.utils)
	registrationHandlers := registrationHandler.New(s.log, s.validator, s.middleware, registrationServices)

	// Results Facade
	resultsServices := resultsService.NewResultsService(s.log, *s.layout)
	resultsHandlers := resultsHandler.New(s.log, s.validator, s.middleware, resultsServices)

	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.setupHealthCheck()

	router := s.engine.Group("/api", s.middleware.NewLoggingMiddleware)
	s.handlers = append(s.handlers, measurementHandlers, calibrationHandlers, registrationHandlers, resultsHandlers)
	for _, h := range s.handlers {
		h.Start(router)
	}
}

// Engine exposes the Fiber app, mostly for tests driving it with app.Test.
func (s *Server) Engine() *fiber.App {
	return s.engine
}

func (s *Server) Run(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.log.WithFields(logrus.Fields{
		"address":      addr,
		"app_root":     s.layout.AppRoot,
		"storage_root": s.layout.StorageRoot,
	}).Info("Measurement API listening")

	return s.engine.Listen(addr)
}

// Shutdown stops every worker through the graceful path before the listener
// goes away, so a stopped host never leaves an orphaned camera process.
func (s *Server) Shutdown(ctx context.Context) error {
	supErr := s.supervisor.Shutdown(ctx)

	if err := s.engine.ShutdownWithContext(ctx); err != nil {
		return err
	}
	if s.statusMirror != nil {
		if err := s.statusMirror.Close(); err != nil {
			s.log.Warnf("Failed to close status mirror: %v", err)
		}
	}
	return supErr
}

func (s *Server) setupHealthCheck() {
	s.engine.Get("/health", func(ctx *fiber.Ctx) error {
		slots := make(map[entity.WorkerKind]entity.SlotState)
		for _, record := range s.supervisor.Snapshot() {
			slots[record.Kind] = record.State
		}
		return ctx.JSON(fiber.Map{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"slots":     slots,
		})
	})
}
