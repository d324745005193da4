package calibrationService

import (
	"fmt"
	"math"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/calibration"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/channel"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/supervisor"
	contextPkg "github.com/AbdullahRaoo/magicqc-op-sub001/pkg/context"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"golang.org/x/net/context"
)

func (s *calibrationService) StartCalibration(
	ctx context.Context,
	req calibration.StartCalibrationRequest,
) (calibration.StartCalibrationResponse, error) {
	requestID := contextPkg.GetRequestID(ctx)

	now := s.now()
	sessionID, err := s.utils.NewULIDFromTimestamp(now)
	if err != nil {
		return calibration.StartCalibrationResponse{}, err
	}

	cfg := entity.CalibrationConfig{
		SessionID:         sessionID,
		ReferenceLengthCm: req.ReferenceLengthCm,
		ReferencePoints:   req.ReferencePoints,
		Samples:           req.Samples,
		OutputPath:        s.layout.CalibrationFile(),
		CreatedAt:         now,
	}

	s.log.WithFields(log.Fields{
		"request_id":          requestID,
		"session_id":          sessionID,
		"reference_length_cm": req.ReferenceLengthCm,
		"samples":             req.Samples,
	}).Info("Starting calibration worker")

	record, err := s.supervisor.Start(ctx, entity.WorkerCalibration, supervisor.StartRequest{
		SessionID: sessionID,
		Label:     "calibration",
		Prepare: func(ctx context.Context) error {
			return channel.ForCalibration(s.layout).Write(cfg)
		},
	})
	if err != nil {
		return calibration.StartCalibrationResponse{Process: record}, err
	}
	return calibration.StartCalibrationResponse{SessionID: sessionID, Process: record}, nil
}

// GetStatus combines the calibration slot with the calibration on disk.
func (s *calibrationService) GetStatus(ctx context.Context) (calibration.CalibrationStatus, error) {
	record, err := s.supervisor.Status(entity.WorkerCalibration)
	if err != nil {
		return calibration.CalibrationStatus{}, err
	}

	doc, path, err := channel.ReadCalibrationDocument(s.layout.CalibrationCandidates()...)
	if err != nil {
		s.log.WithFields(log.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"error":      err.Error(),
		}).Warn("Calibration document unreadable")
	}

	return calibration.CalibrationStatus{
		Running:           record.Running,
		Status:            record.Status,
		Calibrated:        doc.Usable(),
		PixelsPerCm:       doc.PixelsPerCm,
		ReferenceLengthCm: doc.ReferenceLengthCm,
		CalibrationDate:   doc.CalibrationDate,
		CalibrationFile:   path,
		Process:           record,
	}, nil
}

// CancelCalibration stops a running calibration. The previous calibration
// stays in place.
func (s *calibrationService) CancelCalibration(ctx context.Context) (entity.ProcessRecord, error) {
	record, err := s.supervisor.Stop(ctx, entity.WorkerCalibration)
	if err != nil {
		return record, err
	}

	s.log.WithFields(log.Fields{
		"request_id": contextPkg.GetRequestID(ctx),
		"session_id": record.SessionID,
	}).Info("Calibration cancelled")
	return record, nil
}

func (s *calibrationService) UploadCalibration(
	ctx context.Context,
	req calibration.UploadCalibrationRequest,
) (entity.CalibrationDocument, error) {
	if req.PixelsPerCm <= 0 || math.IsNaN(req.PixelsPerCm) || math.IsInf(req.PixelsPerCm, 0) {
		return entity.CalibrationDocument{}, calibration.ErrInvalidScale
	}

	record, err := s.supervisor.Status(entity.WorkerCalibration)
	if err != nil {
		return entity.CalibrationDocument{}, err
	}
	if record.Running {
		return entity.CalibrationDocument{}, fmt.Errorf("%w: worker %d is %s", calibration.ErrCalibrationBusy, record.PID, record.State)
	}

	now := s.now()
	doc := entity.CalibrationDocument{
		PixelsPerCm:       req.PixelsPerCm,
		ReferenceLengthCm: req.ReferenceLengthCm,
		IsCalibrated:      req.IsCalibrated == nil || *req.IsCalibrated,
		CalibrationDate:   &now,
	}

	path := s.layout.CalibrationFile()
	if err := channel.WriteCalibrationDocument(path, doc); err != nil {
		return entity.CalibrationDocument{}, err
	}

	s.log.WithFields(log.Fields{
		"request_id":    contextPkg.GetRequestID(ctx),
		"pixels_per_cm": doc.PixelsPerCm,
		"path":          path,
	}).Info("Calibration uploaded")
	return doc, nil
}
