package vision

import (
	"bytes"
	"context"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/camera"
	"github.com/disintegration/imaging"
)

const remoteJPEGQuality = 90

// Analyzer is an out-of-process vision service. Keypoints and reference
// points are sent in frame pixels.
type Analyzer interface {
	MeasureFrame(ctx context.Context, frame []byte, keypoints [][]float64, pixelsPerCm float64) (entity.ObservationSet, error)
	MeasureReference(ctx context.Context, frame []byte, referencePoints [][]float64) (float64, bool, error)
}

// RemoteEstimator ships each frame to an Analyzer. Centimetres are always
// derived locally from the returned pixel spans.
type RemoteEstimator struct {
	Analyzer Analyzer
}

func (e RemoteEstimator) Tick(ctx context.Context, frame camera.Frame, session Session) (entity.ObservationSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame.Image == nil {
		return nil, nil
	}

	jpeg, err := encodeFrame(frame)
	if err != nil {
		return nil, err
	}

	sx, sy := frameScale(frame, session.Geometry)
	keypoints := make([][]float64, 0, len(session.Geometry.Keypoints))
	for _, p := range session.Geometry.Keypoints {
		if len(p) < 2 {
			keypoints = append(keypoints, p)
			continue
		}
		keypoints = append(keypoints, []float64{p[0] * sx, p[1] * sy})
	}

	scale := 0.0
	if session.Calibrated {
		scale = session.PixelsPerCm
	}

	set, err := e.Analyzer.MeasureFrame(ctx, jpeg, keypoints, scale)
	if err != nil {
		return nil, err
	}

	out := make(entity.ObservationSet, 0, len(set))
	for _, obs := range set {
		if obs.PairID < 1 || obs.PairID > session.Geometry.PairCount() {
			continue
		}
		obs.DistanceCm = 0
		if scale > 0 && obs.PixelDistance > 0 {
			obs.DistanceCm = obs.PixelDistance / scale
		}
		out = append(out, obs)
	}
	return out, nil
}

type RemoteCalibrator struct {
	Analyzer Analyzer
}

func (c RemoteCalibrator) Measure(ctx context.Context, frame camera.Frame, cfg entity.CalibrationConfig) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if len(cfg.ReferencePoints) != 2 || len(cfg.ReferencePoints[0]) < 2 || len(cfg.ReferencePoints[1]) < 2 {
		return 0, false, ErrNoReferenceSpan
	}
	if frame.Image == nil {
		return 0, false, nil
	}

	jpeg, err := encodeFrame(frame)
	if err != nil {
		return 0, false, err
	}
	return c.Analyzer.MeasureReference(ctx, jpeg, cfg.ReferencePoints)
}

func encodeFrame(frame camera.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, frame.Image, imaging.JPEG, imaging.JPEGQuality(remoteJPEGQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
