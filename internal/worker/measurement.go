package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/channel"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/readiness"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/store"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/camera"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/fileutil"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/vision"
)

// Consecutive failed persists tolerated before the worker gives up.
const maxPersistFailures = 5

var (
	errGeometryMissing = errors.New("annotation geometry not found")
	errGeometryEmpty   = errors.New("annotation geometry has no keypoint pairs")
	errReferenceImage  = errors.New("reference image not found")
)

type MeasurementWorker struct {
	opts Options
}

func NewMeasurementWorker(opts Options) *MeasurementWorker {
	return &MeasurementWorker{opts: opts.withDefaults()}
}

func (w *MeasurementWorker) Run(ctx context.Context) error {
	logger := w.opts.Log

	cfg, err := channel.ForMeasurement(w.opts.Layout).ReadMeasurement()
	if err != nil {
		return exitWith(entity.ExitConfigInvalid, err)
	}
	if cfg.ResultsPath == "" {
		cfg.ResultsPath = w.opts.Layout.ResultsDir()
	}

	geometry, err := LoadGeometry(cfg.AnnotationJSONPath)
	if err != nil {
		return err
	}
	if cfg.ReferenceImagePath != "" && !fileutil.Exists(cfg.ReferenceImagePath) {
		return exitWith(entity.ExitConfigInvalid, fmt.Errorf("%w: %s", errReferenceImage, cfg.ReferenceImagePath))
	}

	calibration, calibrationPath, err := channel.ReadCalibrationDocument(w.opts.Layout.CalibrationCandidates()...)
	if err != nil {
		logger.WithFields(log.Fields{
			"error": err.Error(),
		}).Warn("Calibration document unreadable, measuring uncalibrated")
	}

	if err := w.opts.Camera.Open(ctx); err != nil {
		return exitWith(entity.ExitNoCamera, err)
	}
	defer func() {
		if err := w.opts.Camera.Close(); err != nil {
			logger.WithFields(log.Fields{
				"error": err.Error(),
			}).Warn("Failed to release camera")
		}
	}()

	st := store.New(cfg, calibration)
	if _, err := st.Persist(w.opts.Now()); err != nil {
		return exitWith(entity.ExitIOFailure, err)
	}

	marker := w.opts.Layout.ReadyFile(entity.WorkerMeasurement)
	if err := readiness.Mark(marker, entity.WorkerMeasurement, w.opts.PID); err != nil {
		return exitWith(entity.ExitIOFailure, err)
	}
	defer func() { _ = readiness.Clear(marker) }()

	logger.WithFields(log.Fields{
		"session_id":       cfg.SessionID,
		"annotation":       cfg.AnnotationName,
		"side":             cfg.Side,
		"pairs":            geometry.PairCount(),
		"specs":            len(cfg.MeasurementSpecs),
		"is_calibrated":    calibration.Usable(),
		"calibration_file": calibrationPath,
		"results_path":     st.Path(),
	}).Info("Measurement worker ready")

	session := vision.Session{
		Config:      cfg,
		Geometry:    geometry,
		PixelsPerCm: calibration.PixelsPerCm,
		Calibrated:  calibration.Usable(),
	}

	// The in-flight tick always completes; only the wait between ticks is
	// interrupted by a stop.
	tickCtx := context.WithoutCancel(ctx)
	failures := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-timer.C:
		}

		if err := w.tick(tickCtx, st, session); err != nil {
			failures++
			logger.WithFields(log.Fields{
				"tick":     st.Tick(),
				"failures": failures,
				"error":    err.Error(),
			}).Error("Failed to persist live snapshot")
			if failures >= maxPersistFailures {
				return exitWith(entity.ExitIOFailure, err)
			}
		} else {
			failures = 0
		}

		timer.Reset(w.opts.TickInterval)
	}

	doc, err := st.Persist(w.opts.Now())
	if err != nil {
		return exitWith(entity.ExitIOFailure, err)
	}

	logger.WithFields(log.Fields{
		"session_id":   cfg.SessionID,
		"ticks":        doc.Tick,
		"measurements": len(doc.Measurements),
	}).Info("Measurement worker stopped")
	return nil
}

// tick runs one acquire, estimate, merge and persist cycle. Acquisition and
// estimation failures produce an empty observation set; only a failed
// persist is returned.
func (w *MeasurementWorker) tick(ctx context.Context, st *store.Store, session vision.Session) error {
	logger := w.opts.Log

	var observations entity.ObservationSet
	frame, err := camera.Acquire(ctx, w.opts.Camera, w.opts.AcquireTimeout)
	switch {
	case errors.Is(err, camera.ErrAcquireTimeout):
		logger.WithFields(log.Fields{
			"tick":    st.Tick() + 1,
			"timeout": w.opts.AcquireTimeout.String(),
		}).Warn("Frame acquisition timed out, tick skipped")
	case err != nil:
		logger.WithFields(log.Fields{
			"tick":  st.Tick() + 1,
			"error": err.Error(),
		}).Warn("Frame acquisition failed, tick skipped")
	default:
		observations, err = w.opts.Estimator.Tick(ctx, frame, session)
		if err != nil {
			logger.WithFields(log.Fields{
				"tick":  st.Tick() + 1,
				"frame": frame.Seq,
				"error": err.Error(),
			}).Warn("Estimator failed on frame")
			observations = nil
		}
	}

	st.Merge(observations)
	_, err = st.Persist(w.opts.Now())
	return err
}

// LoadGeometry reads an annotation document. Its errors are *ExitError with
// ExitGeometryMissing or ExitGeometryInvalid.
func LoadGeometry(path string) (entity.Geometry, error) {
	var geometry entity.Geometry
	if path == "" {
		return geometry, exitWith(entity.ExitGeometryMissing, errGeometryMissing)
	}

	err := fileutil.ReadJSON(path, &geometry)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return geometry, exitWith(entity.ExitGeometryMissing, fmt.Errorf("%w: %s", errGeometryMissing, path))
	case err != nil:
		return geometry, exitWith(entity.ExitGeometryInvalid, fmt.Errorf("%s: %w", path, err))
	}

	if geometry.PairCount() == 0 {
		return geometry, exitWith(entity.ExitGeometryInvalid, fmt.Errorf("%w: %s", errGeometryEmpty, path))
	}
	return geometry, nil
}
