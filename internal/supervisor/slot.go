package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"github.com/sirupsen/logrus"
)

// Probe answers whether the launched process finished its startup.
type Probe interface {
	Ready(pid int) (bool, error)
	// Reset discards readiness left behind by a previous process.
	Reset() error
}

type SlotConfig struct {
	Kind     entity.WorkerKind
	Launcher Launcher
	Command  LaunchSpec
	Probe    Probe

	ReadyRetries int
	ReadyDelay   time.Duration
	StopGrace    time.Duration
	KillWait     time.Duration

	// ExitIsCompletion marks workers that finish on their own; a zero exit
	// while healthy is a completed run instead of a crash.
	ExitIsCompletion bool
}

func (c SlotConfig) withDefaults() SlotConfig {
	if c.ReadyRetries <= 0 {
		c.ReadyRetries = 30
	}
	if c.ReadyDelay <= 0 {
		c.ReadyDelay = 200 * time.Millisecond
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	if c.KillWait <= 0 {
		c.KillWait = 2 * time.Second
	}
	c.Command.Kind = c.Kind
	return c
}

type StartRequest struct {
	SessionID string
	Label     string
	// Prepare runs after the slot is reserved and before the process is
	// launched. An error aborts the start and frees the slot.
	Prepare func(ctx context.Context) error
}

var errCompletedDuringStartup = errors.New("worker completed during startup")

// Slot owns the lifecycle of one worker kind:
//
//	Idle -> Starting -> Healthy -> Stopping -> Idle
//	                            -> Crashed  -> Idle
//
// Every transition happens under mu. Start and Stop release the lock while
// they wait on the process, and the intermediate Starting/Stopping states keep
// other callers out in the meantime.
type Slot struct {
	cfg  SlotConfig
	log  *logrus.Logger
	emit func(entity.ProcessRecord)
	now  func() time.Time

	mu          sync.Mutex
	record      entity.ProcessRecord
	proc        Process
	cancelStart context.CancelFunc
	startDone   chan struct{}
	stopDone    chan struct{}
	stopPending bool
}

func newSlot(cfg SlotConfig, logger *logrus.Logger, emit func(entity.ProcessRecord)) *Slot {
	cfg = cfg.withDefaults()
	if emit == nil {
		emit = func(entity.ProcessRecord) {}
	}
	return &Slot{
		cfg:    cfg,
		log:    logger,
		emit:   emit,
		now:    time.Now,
		record: entity.ProcessRecord{Kind: cfg.Kind, State: entity.SlotIdle},
	}
}

func (s *Slot) Kind() entity.WorkerKind {
	return s.cfg.Kind
}

func (s *Slot) Start(ctx context.Context, req StartRequest) (entity.ProcessRecord, error) {
	s.mu.Lock()
	s.reconcileLocked()

	switch s.record.State {
	case entity.SlotStarting, entity.SlotHealthy, entity.SlotStopping:
		rec := s.snapshotLocked()
		s.mu.Unlock()

		s.log.WithFields(log.Fields{
			"kind":  s.cfg.Kind,
			"state": rec.State,
			"pid":   rec.PID,
		}).Warn("Start rejected, worker slot is busy")
		return rec, ErrAlreadyRunning
	}

	startCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	started := s.now()

	s.record = entity.ProcessRecord{
		Kind:      s.cfg.Kind,
		State:     entity.SlotStarting,
		SessionID: req.SessionID,
		Label:     req.Label,
		StartedAt: &started,
	}
	s.proc = nil
	s.cancelStart = cancel
	s.startDone = done
	s.stopPending = false
	s.changedLocked()
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.cancelStart = nil
		s.startDone = nil
		s.mu.Unlock()
		close(done)
	}()

	if req.Prepare != nil {
		if err := req.Prepare(startCtx); err != nil {
			if startCtx.Err() != nil {
				err = fmt.Errorf("%w: %v", ErrStartCancelled, err)
			}
			return s.abortStart(nil, err), err
		}
	}

	if err := s.cfg.Probe.Reset(); err != nil {
		s.log.WithFields(log.Fields{
			"kind":  s.cfg.Kind,
			"error": err.Error(),
		}).Warn("Failed to clear stale readiness marker")
	}

	proc, err := s.cfg.Launcher.Launch(startCtx, s.cfg.Command)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrLaunchFailed, err)
		return s.abortStart(nil, err), err
	}

	s.mu.Lock()
	s.proc = proc
	s.record.PID = proc.PID()
	s.changedLocked()
	s.mu.Unlock()

	if err := s.awaitReady(startCtx, proc); err != nil {
		if errors.Is(err, errCompletedDuringStartup) {
			return s.finish(proc, entity.OutcomeCompleted, ""), nil
		}
		return s.abortStart(proc, err), err
	}

	s.mu.Lock()
	if s.stopPending || startCtx.Err() != nil {
		s.mu.Unlock()
		return s.abortStart(proc, ErrStartCancelled), ErrStartCancelled
	}
	defer s.mu.Unlock()

	checked := s.now()
	s.record.State = entity.SlotHealthy
	s.record.LastHealthCheckAt = &checked
	s.changedLocked()

	s.log.WithFields(log.Fields{
		"kind":       s.cfg.Kind,
		"pid":        s.record.PID,
		"session_id": s.record.SessionID,
	}).Info("Worker is healthy")

	return s.snapshotLocked(), nil
}

// awaitReady polls the probe a bounded number of times.
func (s *Slot) awaitReady(ctx context.Context, proc Process) error {
	for attempt := 1; attempt <= s.cfg.ReadyRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ErrStartCancelled
		case <-proc.Done():
			code := proc.ExitCode()
			if code == entity.ExitOK && s.cfg.ExitIsCompletion {
				return errCompletedDuringStartup
			}
			return fmt.Errorf("%w: exited during startup with code %d (%s)", ErrStartupTimeout, code, entity.ExitReason(code))
		case <-time.After(s.cfg.ReadyDelay):
		}

		ready, err := s.cfg.Probe.Ready(proc.PID())
		if err != nil {
			s.log.WithFields(log.Fields{
				"kind":    s.cfg.Kind,
				"attempt": attempt,
				"error":   err.Error(),
			}).Debug("Readiness probe failed")
			continue
		}
		if ready {
			return nil
		}
	}

	return fmt.Errorf("%w: not ready after %d attempts", ErrStartupTimeout, s.cfg.ReadyRetries)
}

// abortStart kills whatever was launched and returns the slot to Idle.
func (s *Slot) abortStart(proc Process, cause error) entity.ProcessRecord {
	if proc != nil {
		s.kill(proc)
	}

	outcome := entity.OutcomeFailed
	if errors.Is(cause, ErrStartCancelled) {
		outcome = entity.OutcomeStopped
	}

	s.log.WithFields(log.Fields{
		"kind":  s.cfg.Kind,
		"error": cause.Error(),
	}).Warn("Worker start aborted")

	return s.finish(proc, outcome, cause.Error())
}

// finish records a terminal outcome and moves the slot to Idle.
func (s *Slot) finish(proc Process, outcome entity.Outcome, reason string) entity.ProcessRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	stopped := s.now()
	s.record.State = entity.SlotIdle
	s.record.Outcome = outcome
	s.record.LastError = reason
	s.record.StoppedAt = &stopped
	if proc != nil {
		select {
		case <-proc.Done():
			code := proc.ExitCode()
			s.record.ExitCode = &code
		default:
		}
	}
	s.proc = nil
	s.changedLocked()

	return s.snapshotLocked()
}

// Stop brings the slot back to Idle from any state. Stopping an idle slot is
// a no-op.
func (s *Slot) Stop(ctx context.Context) (entity.ProcessRecord, error) {
	s.mu.Lock()
	s.reconcileLocked()

	switch s.record.State {
	case entity.SlotIdle:
		rec := s.snapshotLocked()
		s.mu.Unlock()
		return rec, nil

	case entity.SlotCrashed:
		s.record.State = entity.SlotIdle
		s.changedLocked()
		rec := s.snapshotLocked()
		s.mu.Unlock()
		return rec, nil

	case entity.SlotStarting:
		cancel, done := s.cancelStart, s.startDone
		s.stopPending = true
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return s.waitFor(ctx, done)

	case entity.SlotStopping:
		done := s.stopDone
		s.mu.Unlock()
		return s.waitFor(ctx, done)
	}

	proc := s.proc
	done := make(chan struct{})
	s.record.State = entity.SlotStopping
	s.stopDone = done
	s.changedLocked()
	s.mu.Unlock()

	defer close(done)

	s.log.WithFields(log.Fields{
		"kind": s.cfg.Kind,
		"pid":  proc.PID(),
	}).Info("Stopping worker")

	s.terminate(proc)
	return s.finish(proc, entity.OutcomeStopped, ""), nil
}

func (s *Slot) waitFor(ctx context.Context, done chan struct{}) (entity.ProcessRecord, error) {
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return s.Status(), ctx.Err()
		}
	}
	return s.Status(), nil
}

// terminate asks for a graceful exit and escalates to a kill after the grace
// period.
func (s *Slot) terminate(proc Process) {
	entry := s.log.WithFields(log.Fields{"kind": s.cfg.Kind, "pid": proc.PID()})

	if err := proc.Terminate(); err != nil {
		entry.WithField("error", err.Error()).Debug("Graceful termination signal not delivered")
	}

	select {
	case <-proc.Done():
		entry.Info("Worker exited gracefully")
		return
	case <-time.After(s.cfg.StopGrace):
	}

	entry.WithField("grace", s.cfg.StopGrace.String()).Warn("Worker did not exit within grace period, killing")
	s.kill(proc)
}

func (s *Slot) kill(proc Process) {
	if err := proc.Kill(); err != nil {
		s.log.WithFields(log.Fields{
			"kind":  s.cfg.Kind,
			"pid":   proc.PID(),
			"error": err.Error(),
		}).Error("Failed to kill worker")
	}

	select {
	case <-proc.Done():
	case <-time.After(s.cfg.KillWait):
		s.log.WithFields(log.Fields{
			"kind": s.cfg.Kind,
			"pid":  proc.PID(),
		}).Error("Worker still not reaped after kill")
	}
}

func (s *Slot) Status() entity.ProcessRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reconcileLocked()
	return s.snapshotLocked()
}

// check is the monitor's periodic liveness pass.
func (s *Slot) check() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reconcileLocked()
	if s.record.State == entity.SlotHealthy {
		checked := s.now()
		s.record.LastHealthCheckAt = &checked
	}
}

// reconcileLocked notices a healthy worker that exited on its own.
func (s *Slot) reconcileLocked() {
	if s.record.State != entity.SlotHealthy || s.proc == nil {
		return
	}

	select {
	case <-s.proc.Done():
	default:
		return
	}

	code := s.proc.ExitCode()
	stopped := s.now()
	s.record.ExitCode = &code
	s.record.StoppedAt = &stopped
	s.proc = nil

	if code == entity.ExitOK && s.cfg.ExitIsCompletion {
		s.record.State = entity.SlotIdle
		s.record.Outcome = entity.OutcomeCompleted
		s.log.WithFields(log.Fields{
			"kind": s.cfg.Kind,
			"pid":  s.record.PID,
		}).Info("Worker completed")
	} else {
		s.record.State = entity.SlotCrashed
		s.record.Outcome = entity.OutcomeCrashed
		s.record.LastError = fmt.Sprintf("%s: exit code %d (%s)", ErrProcessCrashed.Error(), code, entity.ExitReason(code))
		s.log.WithFields(log.Fields{
			"kind":      s.cfg.Kind,
			"pid":       s.record.PID,
			"exit_code": code,
		}).Error("Worker exited unexpectedly")
	}

	s.changedLocked()
}

func (s *Slot) snapshotLocked() entity.ProcessRecord {
	rec := s.record
	rec.Running = rec.State == entity.SlotStarting || rec.State == entity.SlotHealthy || rec.State == entity.SlotStopping
	rec.Status = rec.LegacyStatus()
	return rec
}

func (s *Slot) changedLocked() {
	s.emit(s.snapshotLocked())
}
