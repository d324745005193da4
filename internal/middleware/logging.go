package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

// Request bodies carry base64 reference images; fields longer than this are
// replaced by their size in the request log.
const maxLoggedFieldLength = 256

// Endpoints the UI polls several times a second. Successful calls are logged
// at debug level only.
var pollingPaths = map[string]bool{
	"/health":                 true,
	"/api/measurement/status": true,
	"/api/calibration/status": true,
	"/api/register/status":    true,
	"/api/results/live":       true,
}

type loggingMiddleware struct {
	logger *logrus.Logger
}

func newLoggingMiddleware(logger *logrus.Logger) *loggingMiddleware {
	return &loggingMiddleware{
		logger: logger,
	}
}

func (m *middleware) NewLoggingMiddleware(c *fiber.Ctx) error {
	start := time.Now()

	err := c.Next()

	latency := time.Since(start)
	status := c.Response().StatusCode()

	logFields := log.Fields{
		"request_id":    m.GetRequestID(c),
		"method":        c.Method(),
		"path":          c.Path(),
		"status":        status,
		"latency_ms":    latency.Milliseconds(),
		"ip":            c.IP(),
		"user_agent":    c.Get("User-Agent"),
		"response_size": len(c.Response().Body()),
	}

	if body := c.Request().Body(); len(body) > 0 {
		logFields["request_body"] = summarizeRequestBody(body)
	}

	entry := m.loggingMiddleware.logger.WithFields(logFields)
	switch {
	case status >= 500:
		entry.Error("Server error")
	case status >= 400:
		entry.Warn("Client error")
	case pollingPaths[c.Path()]:
		entry.Debug("Success")
	default:
		entry.Info("Success")
	}

	return err
}

func summarizeRequestBody(body []byte) string {
	var jsonBody map[string]interface{}
	if err := jsoniter.Unmarshal(body, &jsonBody); err != nil {
		return "[non-JSON body]"
	}

	for field, value := range jsonBody {
		s, ok := value.(string)
		if !ok || len(s) <= maxLoggedFieldLength {
			continue
		}
		if strings.HasPrefix(s, "data:") || field == "image_data" {
			jsonBody[field] = fmt.Sprintf("[image %d bytes]", len(s))
			continue
		}
		jsonBody[field] = s[:maxLoggedFieldLength] + "..."
	}

	summarized, err := jsoniter.Marshal(jsonBody)
	if err != nil {
		return "[summarization-failed]"
	}

	return string(summarized)
}
