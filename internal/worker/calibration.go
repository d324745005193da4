package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/channel"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/readiness"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/camera"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/vision"
)

// A calibration run gives up when the reference object is missing from this
// many frames per requested sample.
const calibrationAttemptsPerSample = 10

var (
	errCalibrationRequest = errors.New("calibration request invalid")
	errReferenceNotFound  = errors.New("reference object not found")
)

type CalibrationWorker struct {
	opts Options
}

func NewCalibrationWorker(opts Options) *CalibrationWorker {
	return &CalibrationWorker{opts: opts.withDefaults()}
}

// Run collects pixel spans of the reference object, fits the scale and
// writes the calibration document. A stop before enough samples were taken
// leaves the previous calibration untouched.
func (w *CalibrationWorker) Run(ctx context.Context) error {
	logger := w.opts.Log

	cfg, err := channel.ForCalibration(w.opts.Layout).ReadCalibration()
	if err != nil {
		return exitWith(entity.ExitConfigInvalid, err)
	}
	if cfg.ReferenceLengthCm <= 0 || len(cfg.ReferencePoints) != 2 {
		return exitWith(entity.ExitConfigInvalid, fmt.Errorf("%w: reference_length_cm=%v points=%d",
			errCalibrationRequest, cfg.ReferenceLengthCm, len(cfg.ReferencePoints)))
	}
	samples := cfg.Samples
	if samples <= 0 {
		samples = w.opts.Samples
	}
	output := cfg.OutputPath
	if output == "" {
		output = w.opts.Layout.CalibrationFile()
	}

	if err := w.opts.Camera.Open(ctx); err != nil {
		return exitWith(entity.ExitNoCamera, err)
	}
	defer func() { _ = w.opts.Camera.Close() }()

	marker := w.opts.Layout.ReadyFile(entity.WorkerCalibration)
	if err := readiness.Mark(marker, entity.WorkerCalibration, w.opts.PID); err != nil {
		return exitWith(entity.ExitIOFailure, err)
	}
	defer func() { _ = readiness.Clear(marker) }()

	logger.WithFields(log.Fields{
		"session_id":          cfg.SessionID,
		"reference_length_cm": cfg.ReferenceLengthCm,
		"samples":             samples,
	}).Info("Calibration worker ready")

	spans := make([]float64, 0, samples)
	for attempt := 0; len(spans) < samples; attempt++ {
		if ctx.Err() != nil {
			logger.WithFields(log.Fields{
				"collected": len(spans),
			}).Info("Calibration cancelled")
			return nil
		}
		if attempt >= samples*calibrationAttemptsPerSample {
			return exitWith(entity.ExitGeneric, fmt.Errorf("%w after %d frames", errReferenceNotFound, attempt))
		}

		frame, err := camera.Acquire(ctx, w.opts.Camera, w.opts.AcquireTimeout)
		if err != nil {
			logger.WithFields(log.Fields{
				"attempt": attempt,
				"error":   err.Error(),
			}).Debug("Calibration frame skipped")
			continue
		}

		px, ok, err := w.opts.Calibrator.Measure(ctx, frame, cfg)
		switch {
		case errors.Is(err, vision.ErrNoReferenceSpan):
			return exitWith(entity.ExitConfigInvalid, err)
		case err != nil:
			logger.WithFields(log.Fields{
				"attempt": attempt,
				"error":   err.Error(),
			}).Warn("Calibration frame not measured")
			continue
		}
		if ok {
			spans = append(spans, px)
		}
	}

	pixelsPerCm, rms, err := vision.FitScale(spans, cfg.ReferenceLengthCm)
	if err != nil {
		return exitWith(entity.ExitGeneric, err)
	}

	now := w.opts.Now()
	doc := entity.CalibrationDocument{
		PixelsPerCm:       pixelsPerCm,
		ReferenceLengthCm: cfg.ReferenceLengthCm,
		IsCalibrated:      true,
		CalibrationDate:   &now,
		Samples:           len(spans),
		RMSErrorPx:        rms,
	}
	if err := channel.WriteCalibrationDocument(output, doc); err != nil {
		return exitWith(entity.ExitIOFailure, err)
	}

	logger.WithFields(log.Fields{
		"pixels_per_cm": pixelsPerCm,
		"rms_error_px":  rms,
		"path":          output,
	}).Info("Calibration completed")
	return nil
}
