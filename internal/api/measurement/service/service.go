package measurementService

import (
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/measurement"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/paths"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/supervisor"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

// Supervisor is the part of the worker supervisor the API drives.
type Supervisor interface {
	Start(ctx context.Context, kind entity.WorkerKind, req supervisor.StartRequest) (entity.ProcessRecord, error)
	Stop(ctx context.Context, kind entity.WorkerKind) (entity.ProcessRecord, error)
	Status(kind entity.WorkerKind) (entity.ProcessRecord, error)
}

type IMeasurementService interface {
	StartMeasurement(ctx context.Context, req measurement.StartMeasurementRequest) (measurement.StartMeasurementResponse, error)
	StopMeasurement(ctx context.Context) (entity.ProcessRecord, error)
	GetStatus(ctx context.Context) (entity.ProcessRecord, error)
	ListAnnotations(ctx context.Context) (measurement.AnnotationList, error)
	GetAnnotationMeasurements(ctx context.Context, size string) (measurement.AnnotationMeasurements, error)
	ExportAnnotation(ctx context.Context, req measurement.ExportAnnotationRequest) (measurement.ExportAnnotationResponse, error)
}

type measurementService struct {
	log        *logrus.Logger
	layout     paths.Layout
	supervisor Supervisor
	utils      utils.IUtils
}

func NewMeasurementService(
	log *logrus.Logger,
	layout paths.Layout,
	sup Supervisor,
	utils utils.IUtils,
) IMeasurementService {
	return &measurementService{
		log:        log,
		layout:     layout,
		supervisor: sup,
		utils:      utils,
	}
}
