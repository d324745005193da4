package registrationService

import (
	"fmt"
	"path/filepath"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/registration"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/channel"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/supervisor"
	contextPkg "github.com/AbdullahRaoo/magicqc-op-sub001/pkg/context"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/fileutil"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"golang.org/x/net/context"
)

// StartRegistration launches the registration worker for one size and side.
// An existing annotation for that side is only replaced when the request
// asks for it.
func (s *registrationService) StartRegistration(
	ctx context.Context,
	req registration.StartRegistrationRequest,
) (registration.StartRegistrationResponse, error) {
	side := req.Side
	if side == "" {
		side = "front"
	}

	now := s.now()
	sessionID, err := s.utils.NewULIDFromTimestamp(now)
	if err != nil {
		return registration.StartRegistrationResponse{}, err
	}

	cfg := entity.RegistrationConfig{
		SessionID:          sessionID,
		Size:               req.Size,
		Side:               side,
		AnnotationDir:      filepath.Join(s.layout.AnnotationsDir(), req.Size),
		Keypoints:          req.Keypoints,
		KeypointNames:      req.KeypointNames,
		ReferenceDistances: req.ReferenceDistances,
		CreatedAt:          now,
	}

	existing := filepath.Join(cfg.AnnotationDir, cfg.AnnotationFile())
	if !req.Overwrite && fileutil.Exists(existing) {
		return registration.StartRegistrationResponse{}, fmt.Errorf("%w: %s", registration.ErrRegistrationExists, existing)
	}

	log.WithRequestID(ctx).WithFields(log.Fields{
		"session_id": sessionID,
		"size":       cfg.Size,
		"side":       cfg.Side,
		"overwrite":  req.Overwrite,
	}).Info("Starting registration worker")

	record, err := s.supervisor.Start(ctx, entity.WorkerRegistration, supervisor.StartRequest{
		SessionID: sessionID,
		Label:     cfg.Size,
		Prepare: func(ctx context.Context) error {
			return channel.ForRegistration(s.layout).Write(cfg)
		},
	})
	if err != nil {
		return registration.StartRegistrationResponse{Process: record}, err
	}
	return registration.StartRegistrationResponse{
		SessionID:     sessionID,
		Size:          cfg.Size,
		Side:          cfg.Side,
		AnnotationDir: cfg.AnnotationDir,
		Process:       record,
	}, nil
}

func (s *registrationService) GetStatus(ctx context.Context) (registration.RegistrationStatus, error) {
	record, err := s.supervisor.Status(entity.WorkerRegistration)
	if err != nil {
		return registration.RegistrationStatus{}, err
	}
	return registration.RegistrationStatus{
		Running: record.Running,
		Size:    record.Label,
		Status:  record.Status,
		Error:   record.LastError,
		Process: record,
	}, nil
}

// CancelRegistration kills a running registration. Stopping an idle slot is
// not an error.
func (s *registrationService) CancelRegistration(ctx context.Context) (entity.ProcessRecord, error) {
	record, err := s.supervisor.Stop(ctx, entity.WorkerRegistration)
	if err != nil {
		return record, err
	}

	s.log.WithFields(log.Fields{
		"request_id": contextPkg.GetRequestID(ctx),
		"session_id": record.SessionID,
	}).Info("Registration cancelled")
	return record, nil
}
