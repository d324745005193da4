package resultsHandler

import (
	"errors"
	"strconv"
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/results"
	resultsService "github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/results/service"
	contextPkg "github.com/AbdullahRaoo/magicqc-op-sub001/pkg/context"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/handlerUtil"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"golang.org/x/net/context"
)

const (
	HeaderSnapshotAge    = "X-Snapshot-Age-Seconds"
	HeaderSnapshotLive   = "X-Snapshot-Live"
	HeaderSnapshotSource = "X-Snapshot-Source"

	streamPollInterval = 500 * time.Millisecond
)

func (h *ResultsHandler) GetLive(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 5*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	snap, err := h.resultsService.GetLive(c)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "get_live_results")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return h.sendSnapshot(ctx, snap)
	}
}

func (h *ResultsHandler) GetLatest(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 5*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	snap, err := h.resultsService.GetLatest(c)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "get_latest_results")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return h.sendSnapshot(ctx, snap)
	}
}

// sendSnapshot writes the document untouched so the UI sees exactly what the
// worker persisted. Freshness travels in headers.
func (h *ResultsHandler) sendSnapshot(ctx *fiber.Ctx, snap resultsService.Snapshot) error {
	age := snap.Age(time.Now())
	source := "preferred"
	if snap.Legacy {
		source = "legacy"
	}

	ctx.Set(HeaderSnapshotAge, strconv.FormatFloat(age.Seconds(), 'f', 1, 64))
	ctx.Set(HeaderSnapshotLive, strconv.FormatBool(age < results.LiveThresholdSeconds*time.Second))
	ctx.Set(HeaderSnapshotSource, source)
	ctx.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return ctx.Status(fiber.StatusOK).Send(snap.Body)
}

// streamLive pushes the live snapshot to the client whenever a new one is
// written. Frames from the client are only read to notice disconnects.
func (h *ResultsHandler) streamLive(c *websocket.Conn) {
	h.log.Info("Live results WebSocket client connected")
	defer h.log.Info("Live results WebSocket client disconnected")

	c.SetPingHandler(func(data string) error {
		if err := c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second)); err != nil {
			h.log.Errorf("Error sending pong: %v", err)
		}
		return nil
	})

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Errorf("Live results WebSocket error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	var (
		lastPath string
		lastMod  time.Time
	)
	for {
		snap, err := h.resultsService.GetLive(context.Background())
		switch {
		case errors.Is(err, results.ErrNotFound):
		case err != nil:
			h.log.Warnf("Live results unavailable for stream: %v", err)
		case snap.Path != lastPath || !snap.ModTime.Equal(lastMod):
			lastPath, lastMod = snap.Path, snap.ModTime

			if err := c.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				h.log.Errorf("Error setting write deadline: %v", err)
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, snap.Body); err != nil {
				h.log.Errorf("Error writing live results: %v", err)
				return
			}
			h.log.WithFields(log.Fields{
				"path": snap.Path,
				"size": len(snap.Body),
			}).Debug("Live results pushed")
		}

		select {
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}
