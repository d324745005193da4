// Package vision turns camera frames into distances. The engines behind
// Estimator and Calibrator are swappable; the orchestration around them only
// depends on these two interfaces.
package vision

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/camera"
)

var (
	ErrUnknownEngine    = errors.New("unknown vision engine")
	ErrNoReferenceSpan  = errors.New("reference points must hold two points")
	ErrNoSamples        = errors.New("no calibration samples")
	ErrInvalidReference = errors.New("reference length must be positive")
	ErrRemoteMissing    = errors.New("remote vision engine needs a service client")
)

const (
	EngineStatic = "static"
	EngineRemote = "remote"
)

// Session is what a measurement engine needs to know about the current run.
type Session struct {
	Config      entity.MeasurementConfig
	Geometry    entity.Geometry
	PixelsPerCm float64
	Calibrated  bool
}

type Estimator interface {
	// Tick measures the pairs visible on frame. Pairs it could not measure are
	// left out of the returned set.
	Tick(ctx context.Context, frame camera.Frame, session Session) (entity.ObservationSet, error)
}

type Calibrator interface {
	// Measure returns the pixel span of the reference object on frame. ok is
	// false when the object was not found on this frame.
	Measure(ctx context.Context, frame camera.Frame, cfg entity.CalibrationConfig) (px float64, ok bool, err error)
}

// NewEstimator picks the engine by name. remote is only used, and then
// required, for EngineRemote.
func NewEstimator(engine string, remote Analyzer) (Estimator, error) {
	switch engine {
	case "", EngineStatic:
		return StaticEstimator{}, nil
	case EngineRemote:
		if remote == nil {
			return nil, ErrRemoteMissing
		}
		return RemoteEstimator{Analyzer: remote}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, engine)
	}
}

func NewCalibrator(engine string, remote Analyzer) (Calibrator, error) {
	switch engine {
	case "", EngineStatic:
		return StaticCalibrator{}, nil
	case EngineRemote:
		if remote == nil {
			return nil, ErrRemoteMissing
		}
		return RemoteCalibrator{Analyzer: remote}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, engine)
	}
}

// StaticEstimator assumes the garment sits where the annotation put it. Each
// keypoint pair is projected from reference-image pixels onto the frame and
// measured there.
type StaticEstimator struct{}

func (StaticEstimator) Tick(ctx context.Context, frame camera.Frame, session Session) (entity.ObservationSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame.Image == nil {
		return nil, nil
	}

	sx, sy := frameScale(frame, session.Geometry)
	points := session.Geometry.Keypoints

	set := make(entity.ObservationSet, 0, session.Geometry.PairCount())
	for k := 0; k+1 < len(points); k += 2 {
		a, b := points[k], points[k+1]
		if len(a) < 2 || len(b) < 2 {
			continue
		}

		px := math.Hypot((b[0]-a[0])*sx, (b[1]-a[1])*sy)
		obs := entity.Observation{PairID: k/2 + 1, PixelDistance: px}
		if session.Calibrated && session.PixelsPerCm > 0 {
			obs.DistanceCm = px / session.PixelsPerCm
		}
		set = append(set, obs)
	}
	return set, nil
}

func frameScale(frame camera.Frame, geometry entity.Geometry) (float64, float64) {
	bounds := frame.Image.Bounds()
	sx, sy := 1.0, 1.0
	if geometry.ImageWidth > 0 && bounds.Dx() > 0 {
		sx = float64(bounds.Dx()) / float64(geometry.ImageWidth)
	}
	if geometry.ImageHeight > 0 && bounds.Dy() > 0 {
		sy = float64(bounds.Dy()) / float64(geometry.ImageHeight)
	}
	return sx, sy
}

// StaticCalibrator reads the span between the configured reference points.
type StaticCalibrator struct{}

func (StaticCalibrator) Measure(ctx context.Context, frame camera.Frame, cfg entity.CalibrationConfig) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if len(cfg.ReferencePoints) != 2 || len(cfg.ReferencePoints[0]) < 2 || len(cfg.ReferencePoints[1]) < 2 {
		return 0, false, ErrNoReferenceSpan
	}
	if frame.Image == nil {
		return 0, false, nil
	}

	a, b := cfg.ReferencePoints[0], cfg.ReferencePoints[1]
	px := math.Hypot(b[0]-a[0], b[1]-a[1])
	return px, px > 0, nil
}

// FitScale fits px = k * lengthCm through the origin over the samples and
// returns k with the residual RMS in pixels.
func FitScale(samples []float64, lengthCm float64) (pixelsPerCm float64, rmsErrorPx float64, err error) {
	if lengthCm <= 0 {
		return 0, 0, ErrInvalidReference
	}
	if len(samples) == 0 {
		return 0, 0, ErrNoSamples
	}

	var sxy, sxx float64
	for _, px := range samples {
		sxy += lengthCm * px
		sxx += lengthCm * lengthCm
	}
	pixelsPerCm = sxy / sxx

	var residual float64
	for _, px := range samples {
		d := px - pixelsPerCm*lengthCm
		residual += d * d
	}
	return pixelsPerCm, math.Sqrt(residual / float64(len(samples))), nil
}
