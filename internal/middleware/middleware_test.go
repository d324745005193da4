package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func newTestApp(rps float64, burst int) *fiber.App {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	m := New(logger, rps, burst)

	app := fiber.New()
	app.Use(m.NewRequestIDMiddleware())
	app.Use(m.NewLoggingMiddleware)
	app.Post("/limited", m.NewRateLimiter, func(c *fiber.Ctx) error {
		return c.SendString(m.GetRequestID(c))
	})
	return app
}

func TestRequestID(t *testing.T) {
	app := newTestApp(100, 100)

	req := httptest.NewRequest("POST", "/limited", nil)
	req.Header.Set(RequestIDKey, "ui-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ui-42" || resp.Header.Get(RequestIDKey) != "ui-42" {
		t.Errorf("caller id not propagated: body=%q header=%q", body, resp.Header.Get(RequestIDKey))
	}

	req = httptest.NewRequest("POST", "/limited", nil)
	req.Header.Set(RequestIDKey, strings.Repeat("x", 100))
	resp, err = app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if got := resp.Header.Get(RequestIDKey); len(got) != 26 {
		t.Errorf("oversized id should be replaced by a ULID, got %q", got)
	}
}

func TestRateLimiter(t *testing.T) {
	app := newTestApp(0.001, 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("POST", "/limited", nil))
		if err != nil {
			t.Fatal(err)
		}
		codes = append(codes, resp.StatusCode)
	}

	if codes[0] != 200 || codes[1] != 200 || codes[2] != fiber.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [200 200 429]", codes)
	}
}

func TestSummarizeRequestBody(t *testing.T) {
	long := strings.Repeat("A", 1000)
	got := summarizeRequestBody([]byte(`{"image_data":"` + long + `","side":"front"}`))

	if strings.Contains(got, long) {
		t.Error("image payload was logged verbatim")
	}
	if !strings.Contains(got, `"side":"front"`) {
		t.Errorf("short fields must be kept, got %s", got)
	}
	if summarizeRequestBody([]byte("not json")) != "[non-JSON body]" {
		t.Error("non-JSON body not recognized")
	}
}
