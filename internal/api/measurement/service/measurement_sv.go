package measurementService

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/measurement"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/results"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/channel"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/supervisor"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/worker"
	contextPkg "github.com/AbdullahRaoo/magicqc-op-sub001/pkg/context"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"golang.org/x/net/context"
)

func (s *measurementService) StartMeasurement(
	ctx context.Context,
	req measurement.StartMeasurementRequest,
) (measurement.StartMeasurementResponse, error) {
	requestID := contextPkg.GetRequestID(ctx)

	if !libraryName(req.AnnotationName) {
		return measurement.StartMeasurementResponse{}, fmt.Errorf("%w: annotation name %q", measurement.ErrInvalidRequest, req.AnnotationName)
	}
	if strings.TrimSpace(req.ArticleStyle) != "" && !libraryName(req.ArticleStyle) {
		return measurement.StartMeasurementResponse{}, fmt.Errorf("%w: article style %q", measurement.ErrInvalidRequest, req.ArticleStyle)
	}

	now := time.Now()
	sessionID, err := s.utils.NewULIDFromTimestamp(now)
	if err != nil {
		return measurement.StartMeasurementResponse{}, err
	}

	side := req.Side
	if side == "" {
		side = "front"
	}
	code := colorCode(req.ColorCode, req.GarmentColor)

	var resolved resolvedAnnotation
	prepare := func(ctx context.Context) error {
		r, err := s.resolveAnnotation(req, side, code, now)
		if err != nil {
			return err
		}
		if _, err := worker.LoadGeometry(r.JSONPath); err != nil {
			return fmt.Errorf("%w: %v", measurement.ErrInvalidGeometry, err)
		}

		cfg := entity.MeasurementConfig{
			SessionID:          sessionID,
			AnnotationName:     req.AnnotationName,
			ArticleStyle:       req.ArticleStyle,
			AnnotationJSONPath: r.JSONPath,
			ReferenceImagePath: r.ImagePath,
			Side:               side,
			GarmentColor:       req.GarmentColor,
			ColorCode:          code,
			ResultsPath:        s.layout.ResultsDir(),
			MeasurementSpecs:   req.MeasurementSpecs.Value,
			CreatedAt:          now,
		}

		s.clearStaleSnapshots(requestID, cfg.ResultsPath)

		if err := channel.ForMeasurement(s.layout).Write(cfg); err != nil {
			return err
		}
		resolved = r
		return nil
	}

	s.log.WithFields(log.Fields{
		"request_id": requestID,
		"session_id": sessionID,
		"annotation": req.AnnotationName,
		"style":      req.ArticleStyle,
		"side":       side,
		"specs":      len(req.MeasurementSpecs.Value),
	}).Info("Starting measurement worker")

	record, err := s.supervisor.Start(ctx, entity.WorkerMeasurement, supervisor.StartRequest{
		SessionID: sessionID,
		Label:     req.AnnotationName,
		Prepare:   prepare,
	})
	if err != nil {
		return measurement.StartMeasurementResponse{Process: record}, err
	}

	return measurement.StartMeasurementResponse{
		SessionID:          sessionID,
		AnnotationName:     req.AnnotationName,
		Side:               side,
		AnnotationJSONPath: resolved.JSONPath,
		ReferenceImagePath: resolved.ImagePath,
		AnnotationSource:   resolved.Source,
		Process:            record,
	}, nil
}

func (s *measurementService) StopMeasurement(ctx context.Context) (entity.ProcessRecord, error) {
	record, err := s.supervisor.Stop(ctx, entity.WorkerMeasurement)
	if err != nil {
		return record, err
	}

	s.log.WithFields(log.Fields{
		"request_id": contextPkg.GetRequestID(ctx),
		"session_id": record.SessionID,
		"status":     record.Status,
	}).Info("Measurement worker stopped")
	return record, nil
}

func (s *measurementService) GetStatus(ctx context.Context) (entity.ProcessRecord, error) {
	return s.supervisor.Status(entity.WorkerMeasurement)
}

// clearStaleSnapshots removes the live document from every place the results
// facade looks, so a new session never shows the previous one.
func (s *measurementService) clearStaleSnapshots(requestID, resultsPath string) {
	candidates := append(results.Candidates(s.layout), results.Candidate{Dir: resultsPath})
	for _, candidate := range candidates {
		err := os.Remove(candidate.Snapshot())
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			continue
		}
		s.log.WithFields(log.Fields{
			"request_id": requestID,
			"path":       candidate.Snapshot(),
			"error":      err.Error(),
		}).Warn("Failed to remove stale live snapshot")
	}
}
