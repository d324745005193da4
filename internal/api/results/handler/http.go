package resultsHandler

import (
	resultsService "github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/results/service"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

type ResultsHandler struct {
	log            *logrus.Logger
	validator      *validator.Validate
	middleware     middleware.Middleware
	resultsService resultsService.IResultsService
}

func New(
	log *logrus.Logger,
	validate *validator.Validate,
	middleware middleware.Middleware,
	rs resultsService.IResultsService,
) *ResultsHandler {
	return &ResultsHandler{
		log:            log,
		validator:      validate,
		middleware:     middleware,
		resultsService: rs,
	}
}

func (h *ResultsHandler) Start(srv fiber.Router) {
	wsMiddleware := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}

	results := srv.Group("/results")
	results.Get("/live", h.GetLive)
	results.Get("/latest", h.GetLatest)

	results.Use("/ws", wsMiddleware)
	results.Get("/ws", websocket.New(h.streamLive))
}
