package websocketPkg

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var ErrNotConfigured = errors.New("vision service url not configured")

const (
	opMeasure   = "measure"
	opCalibrate = "calibrate"
)

// IVisionSocket talks to an external vision service over a single websocket.
// Frames go out JPEG encoded; the service answers every request with exactly
// one JSON message.
type IVisionSocket interface {
	MeasureFrame(ctx context.Context, frame []byte, keypoints [][]float64, pixelsPerCm float64) (entity.ObservationSet, error)
	MeasureReference(ctx context.Context, frame []byte, referencePoints [][]float64) (float64, bool, error)
	IsConnected() bool
	Reconnect(ctx context.Context) error
	Close()
}

type visionRequest struct {
	Op              string      `json:"op"`
	Frame           string      `json:"frame"`
	Keypoints       [][]float64 `json:"keypoints,omitempty"`
	ReferencePoints [][]float64 `json:"reference_points,omitempty"`
	PixelsPerCm     float64     `json:"pixels_per_cm,omitempty"`
}

type visionResponse struct {
	Observations entity.ObservationSet `json:"observations"`
	Pixels       float64               `json:"pixels"`
	Found        bool                  `json:"found"`
	Error        string                `json:"error"`
}

type visionClient struct {
	log          *logrus.Logger
	url          string
	conn         *websocket.Conn
	mu           sync.Mutex
	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewVisionClient dials lazily: the first request connects.
func NewVisionClient(log *logrus.Logger, url string) (IVisionSocket, error) {
	if url == "" {
		return nil, ErrNotConfigured
	}
	return &visionClient{
		log:          log,
		url:          url,
		pingInterval: 30 * time.Second,
		readTimeout:  10 * time.Second,
		writeTimeout: 5 * time.Second,
	}, nil
}

func (c *visionClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *visionClient) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	c.log.WithField("url", c.url).Info("Connecting to vision service")

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	conn.SetPingHandler(func(appData string) error {
		if err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.writeTimeout)); err != nil {
			c.log.Warnf("Error sending pong: %v", err)
		}
		return nil
	})

	c.conn = conn
	go c.keepAlive(conn)

	return nil
}

func (c *visionClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *visionClient) keepAlive(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		if c.conn != conn {
			c.mu.Unlock()
			return
		}

		if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.writeTimeout)); err != nil {
			c.log.Warnf("Ping failed, marking vision connection as dead: %v", err)
			c.conn = nil
			conn.Close()
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

func (c *visionClient) connection(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn, nil
	}

	if err := c.Reconnect(ctx); err != nil {
		return nil, fmt.Errorf("cannot connect to vision service: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, fmt.Errorf("not connected to vision service")
	}
	return c.conn, nil
}

// dropLocked forgets conn; c.mu must be held.
func (c *visionClient) dropLocked(conn *websocket.Conn) {
	if c.conn == conn {
		c.conn = nil
	}
	conn.Close()
}

// roundTrip serialises requests on the connection; the service has no
// request ids so replies are matched by order.
func (c *visionClient) roundTrip(ctx context.Context, req visionRequest) (visionResponse, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return visionResponse{}, err
	}

	payload, err := jsoniter.Marshal(req)
	if err != nil {
		return visionResponse{}, err
	}

	c.mu.Lock()
	conn.SetWriteDeadline(deadline(ctx, c.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.dropLocked(conn)
		c.mu.Unlock()
		return visionResponse{}, fmt.Errorf("error sending %s frame: %w", req.Op, err)
	}

	conn.SetReadDeadline(deadline(ctx, c.readTimeout))
	_, message, err := conn.ReadMessage()
	if err != nil {
		c.dropLocked(conn)
		c.mu.Unlock()
		return visionResponse{}, fmt.Errorf("error reading %s reply: %w", req.Op, err)
	}
	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})
	c.mu.Unlock()

	var resp visionResponse
	if err := jsoniter.Unmarshal(message, &resp); err != nil {
		return visionResponse{}, fmt.Errorf("error unmarshaling %s reply: %w", req.Op, err)
	}
	if resp.Error != "" {
		return visionResponse{}, fmt.Errorf("vision service: %s", resp.Error)
	}
	return resp, nil
}

func (c *visionClient) MeasureFrame(ctx context.Context, frame []byte, keypoints [][]float64, pixelsPerCm float64) (entity.ObservationSet, error) {
	resp, err := c.roundTrip(ctx, visionRequest{
		Op:          opMeasure,
		Frame:       base64.StdEncoding.EncodeToString(frame),
		Keypoints:   keypoints,
		PixelsPerCm: pixelsPerCm,
	})
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"bytes": len(frame),
		"pairs": len(resp.Observations),
	}).Debug("Vision service measured frame")
	return resp.Observations, nil
}

func (c *visionClient) MeasureReference(ctx context.Context, frame []byte, referencePoints [][]float64) (float64, bool, error) {
	resp, err := c.roundTrip(ctx, visionRequest{
		Op:              opCalibrate,
		Frame:           base64.StdEncoding.EncodeToString(frame),
		ReferencePoints: referencePoints,
	})
	if err != nil {
		return 0, false, err
	}
	return resp.Pixels, resp.Found && resp.Pixels > 0, nil
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
