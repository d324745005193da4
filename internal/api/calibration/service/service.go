package calibrationService

import (
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/calibration"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/paths"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/supervisor"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

type Supervisor interface {
	Start(ctx context.Context, kind entity.WorkerKind, req supervisor.StartRequest) (entity.ProcessRecord, error)
	Stop(ctx context.Context, kind entity.WorkerKind) (entity.ProcessRecord, error)
	Status(kind entity.WorkerKind) (entity.ProcessRecord, error)
}

type ICalibrationService interface {
	StartCalibration(ctx context.Context, req calibration.StartCalibrationRequest) (calibration.StartCalibrationResponse, error)
	GetStatus(ctx context.Context) (calibration.CalibrationStatus, error)
	CancelCalibration(ctx context.Context) (entity.ProcessRecord, error)
	UploadCalibration(ctx context.Context, req calibration.UploadCalibrationRequest) (entity.CalibrationDocument, error)
}

type calibrationService struct {
	log        *logrus.Logger
	layout     paths.Layout
	supervisor Supervisor
	utils      utils.IUtils
	now        func() time.Time
}

func NewCalibrationService(
	log *logrus.Logger,
	layout paths.Layout,
	sup Supervisor,
	utils utils.IUtils,
) ICalibrationService {
	return &calibrationService{
		log:        log,
		layout:     layout,
		supervisor: sup,
		utils:      utils,
		now:        time.Now,
	}
}
