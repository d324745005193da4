package resultsService

import (
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/paths"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

// Snapshot is a results document exactly as the worker wrote it.
type Snapshot struct {
	Path    string
	Body    []byte
	ModTime time.Time
	Legacy  bool
}

func (s Snapshot) Age(now time.Time) time.Duration {
	age := now.Sub(s.ModTime)
	if age < 0 {
		return 0
	}
	return age
}

type IResultsService interface {
	GetLive(ctx context.Context) (Snapshot, error)
	GetLatest(ctx context.Context) (Snapshot, error)
}

type resultsService struct {
	log    *logrus.Logger
	layout paths.Layout
}

func NewResultsService(log *logrus.Logger, layout paths.Layout) IResultsService {
	return &resultsService{
		log:    log,
		layout: layout,
	}
}
