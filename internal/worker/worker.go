// Package worker runs inside the child process the supervisor launches. Each
// worker reads its configuration from the config channel, announces
// readiness, and runs until it finishes or is told to stop.
package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/paths"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/camera"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/vision"
	"github.com/sirupsen/logrus"
)

// ExitError carries the process exit status a worker failure maps to.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("worker exit %d (%s): %v", e.Code, entity.ExitReason(e.Code), e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitWith(code int, err error) *ExitError {
	return &ExitError{Code: code, Err: err}
}

type Options struct {
	Layout     paths.Layout
	Log        *logrus.Logger
	Camera     camera.Source
	Estimator  vision.Estimator
	Calibrator vision.Calibrator

	TickInterval   time.Duration
	AcquireTimeout time.Duration
	// Samples is used when the calibration request does not name a count.
	Samples int

	PID int
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 200 * time.Millisecond
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 2 * time.Second
	}
	if o.Samples <= 0 {
		o.Samples = 15
	}
	if o.PID == 0 {
		o.PID = os.Getpid()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	return o
}

// Worker is the common shape of every supervised worker.
type Worker interface {
	Run(ctx context.Context) error
}

func New(kind entity.WorkerKind, opts Options) (Worker, error) {
	switch kind {
	case entity.WorkerMeasurement:
		return NewMeasurementWorker(opts), nil
	case entity.WorkerCalibration:
		return NewCalibrationWorker(opts), nil
	case entity.WorkerRegistration:
		return NewRegistrationWorker(opts), nil
	default:
		return nil, exitWith(entity.ExitGeneric, fmt.Errorf("unknown worker kind %q", kind))
	}
}
