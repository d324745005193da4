package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/channel"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/readiness"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/camera"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/fileutil"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"github.com/disintegration/imaging"
)

const (
	registrationAttempts = 20
	referenceJPEGQuality = 95
)

var (
	errRegistrationRequest = errors.New("registration request invalid")
	errNoReferenceFrame    = errors.New("no reference frame captured")
)

type RegistrationWorker struct {
	opts Options
}

func NewRegistrationWorker(opts Options) *RegistrationWorker {
	return &RegistrationWorker{opts: opts.withDefaults()}
}

// Run captures one reference frame and stores it with the requested
// keypoints as a library annotation. The annotation is written after the
// image so a reader never finds keypoints without their reference frame.
func (w *RegistrationWorker) Run(ctx context.Context) error {
	logger := w.opts.Log

	cfg, err := channel.ForRegistration(w.opts.Layout).ReadRegistration()
	if err != nil {
		return exitWith(entity.ExitConfigInvalid, err)
	}
	if err := validRegistration(cfg); err != nil {
		return exitWith(entity.ExitConfigInvalid, err)
	}

	if err := w.opts.Camera.Open(ctx); err != nil {
		return exitWith(entity.ExitNoCamera, err)
	}
	defer func() { _ = w.opts.Camera.Close() }()

	marker := w.opts.Layout.ReadyFile(entity.WorkerRegistration)
	if err := readiness.Mark(marker, entity.WorkerRegistration, w.opts.PID); err != nil {
		return exitWith(entity.ExitIOFailure, err)
	}
	defer func() { _ = readiness.Clear(marker) }()

	logger.WithFields(log.Fields{
		"session_id": cfg.SessionID,
		"size":       cfg.Size,
		"side":       cfg.Side,
	}).Info("Registration worker ready")

	var frame camera.Frame
	for attempt := 0; frame.Image == nil; attempt++ {
		if ctx.Err() != nil {
			logger.Info("Registration cancelled")
			return nil
		}
		if attempt >= registrationAttempts {
			return exitWith(entity.ExitGeneric, fmt.Errorf("%w after %d attempts", errNoReferenceFrame, attempt))
		}

		frame, err = camera.Acquire(ctx, w.opts.Camera, w.opts.AcquireTimeout)
		if err != nil {
			logger.WithFields(log.Fields{
				"attempt": attempt,
				"error":   err.Error(),
			}).Debug("Registration frame skipped")
		}
	}

	var jpeg bytes.Buffer
	if err := imaging.Encode(&jpeg, frame.Image, imaging.JPEG, imaging.JPEGQuality(referenceJPEGQuality)); err != nil {
		return exitWith(entity.ExitGeneric, err)
	}
	imagePath := filepath.Join(cfg.AnnotationDir, cfg.ReferenceImageFile())
	if err := fileutil.WriteFileAtomic(imagePath, jpeg.Bytes(), 0o644); err != nil {
		return exitWith(entity.ExitIOFailure, err)
	}

	bounds := frame.Image.Bounds()
	geometry := entity.Geometry{
		Keypoints:          cfg.Keypoints,
		KeypointNames:      cfg.KeypointNames,
		ReferenceDistances: cfg.ReferenceDistances,
		ImageWidth:         bounds.Dx(),
		ImageHeight:        bounds.Dy(),
		AnnotationDate:     w.opts.Now().UTC().Format(time.RFC3339),
		Source:             "registration",
		Size:               cfg.Size,
		Side:               cfg.Side,
	}
	annotationPath := filepath.Join(cfg.AnnotationDir, cfg.AnnotationFile())
	if err := fileutil.WriteJSONAtomic(annotationPath, geometry); err != nil {
		return exitWith(entity.ExitIOFailure, err)
	}

	logger.WithFields(log.Fields{
		"session_id": cfg.SessionID,
		"annotation": annotationPath,
		"image":      imagePath,
		"keypoints":  len(cfg.Keypoints),
	}).Info("Registration completed")
	return nil
}

func validRegistration(cfg entity.RegistrationConfig) error {
	switch {
	case !slices.Contains(entity.RegistrationSizes, cfg.Size):
		return fmt.Errorf("%w: size %q", errRegistrationRequest, cfg.Size)
	case cfg.Side != "front" && cfg.Side != "back":
		return fmt.Errorf("%w: side %q", errRegistrationRequest, cfg.Side)
	case cfg.AnnotationDir == "":
		return fmt.Errorf("%w: no annotation_path", errRegistrationRequest)
	case len(cfg.Keypoints) < 2:
		return fmt.Errorf("%w: %d keypoints", errRegistrationRequest, len(cfg.Keypoints))
	}
	for i, kp := range cfg.Keypoints {
		if len(kp) != 2 {
			return fmt.Errorf("%w: keypoint %d has %d coordinates", errRegistrationRequest, i, len(kp))
		}
	}
	return nil
}
