package registrationService

import (
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/api/registration"
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

type IRegistrationService interface {
	StartRegistration(ctx context.Context, req registration.StartRegistrationRequest) (registration.StartRegistrationResponse, error)
	GetStatus(ctx context.Context) (registration.RegistrationStatus, error)
	CancelRegistration(ctx context.Context) (entity.ProcessRecord, error)
}

type registrationService struct {
	log        *logrus.Logger
	layout     paths.Layout
	supervisor Supervisor
	utils      utils.IUtils
	now        func() time.Time
}

func NewRegistrationService(
	log *logrus.Logger,
	layout paths.Layout,
	sup Supervisor,
	utils utils.IUtils,
) IRegistrationService {
	return &registrationService{
		log:        log,
		layout:     layout,
		supervisor: sup,
		utils:      utils,
		now:        time.Now,
	}
}
