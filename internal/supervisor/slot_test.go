package supervisor

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeProcess struct {
	pid             int
	exitOnTerminate bool

	mu       sync.Mutex
	done     chan struct{}
	exited   bool
	exitCode int

	terminated atomic.Bool
	killed     atomic.Bool
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{}), exitOnTerminate: true}
}

func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *fakeProcess) exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.exited = true
	p.exitCode = code
	close(p.done)
}

func (p *fakeProcess) Terminate() error {
	p.terminated.Store(true)
	if p.exitOnTerminate {
		p.exit(0)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.exit(-1)
	return nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	nextPID  int
	launched []*fakeProcess
	err      error
	setup    func(p *fakeProcess)
}

func (l *fakeLauncher) Launch(_ context.Context, _ LaunchSpec) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return nil, l.err
	}
	l.nextPID++
	p := newFakeProcess(1000 + l.nextPID)
	if l.setup != nil {
		l.setup(p)
	}
	l.launched = append(l.launched, p)
	return p, nil
}

func (l *fakeLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched[len(l.launched)-1]
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

type fakeProbe struct {
	never  bool
	resets atomic.Int32
}

func (p *fakeProbe) Ready(int) (bool, error) { return !p.never, nil }
func (p *fakeProbe) Reset() error {
	p.resets.Add(1)
	return nil
}

func newTestSlot(launcher *fakeLauncher, probe *fakeProbe, completion bool) *Slot {
	return newSlot(SlotConfig{
		Kind:             entity.WorkerMeasurement,
		Launcher:         launcher,
		Probe:            probe,
		ReadyRetries:     5,
		ReadyDelay:       time.Millisecond,
		StopGrace:        50 * time.Millisecond,
		KillWait:         50 * time.Millisecond,
		ExitIsCompletion: completion,
	}, quietLogger(), nil)
}

func TestSlot_StartStop(t *testing.T) {
	launcher := &fakeLauncher{}
	probe := &fakeProbe{}
	slot := newTestSlot(launcher, probe, false)

	rec, err := slot.Start(context.Background(), StartRequest{SessionID: "s1", Label: "M"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.State != entity.SlotHealthy || !rec.Running || rec.PID == 0 || rec.Status != "running" {
		t.Fatalf("after start: %+v", rec)
	}
	if probe.resets.Load() != 1 {
		t.Errorf("stale readiness must be cleared before launch")
	}

	rec, err = slot.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.State != entity.SlotIdle || rec.Outcome != entity.OutcomeStopped || rec.Running {
		t.Fatalf("after stop: %+v", rec)
	}
	if !launcher.last().terminated.Load() || launcher.last().killed.Load() {
		t.Error("a cooperative worker is terminated, not killed")
	}
}

func TestSlot_StartWhileHealthyIsRejected(t *testing.T) {
	launcher := &fakeLauncher{}
	slot := newTestSlot(launcher, &fakeProbe{}, false)

	first, err := slot.Start(context.Background(), StartRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	prepared := false
	rec, err := slot.Start(context.Background(), StartRequest{Prepare: func(context.Context) error {
		prepared = true
		return nil
	}})
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}
	if prepared {
		t.Error("a rejected start must not touch the config")
	}
	if rec.PID != first.PID || rec.State != entity.SlotHealthy {
		t.Errorf("existing worker disturbed: %+v", rec)
	}
	if launcher.count() != 1 {
		t.Errorf("launched %d processes, want 1", launcher.count())
	}
}

// Two concurrent starts give exactly one healthy worker and one rejection.
func TestSlot_ConcurrentStarts(t *testing.T) {
	launcher := &fakeLauncher{}
	slot := newTestSlot(launcher, &fakeProbe{}, false)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	prepare := func(context.Context) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := slot.Start(context.Background(), StartRequest{Prepare: prepare})
			results <- err
		}()
	}

	<-entered
	first := <-results
	close(release)
	second := <-results

	if !errors.Is(first, ErrAlreadyRunning) {
		t.Fatalf("first finished call = %v, want ErrAlreadyRunning", first)
	}
	if second != nil {
		t.Fatalf("second finished call = %v, want success", second)
	}
	if got := slot.Status(); got.State != entity.SlotHealthy {
		t.Errorf("state = %s, want healthy", got.State)
	}
	if launcher.count() != 1 {
		t.Errorf("launched %d processes, want 1", launcher.count())
	}
}

func TestSlot_StopIsIdempotent(t *testing.T) {
	slot := newTestSlot(&fakeLauncher{}, &fakeProbe{}, false)

	first, err := slot.Stop(context.Background())
	if err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	second, err := slot.Stop(context.Background())
	if err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if first.State != entity.SlotIdle || second.State != entity.SlotIdle || first.Status != second.Status {
		t.Errorf("stop on idle changed state: %+v -> %+v", first, second)
	}
}

func TestSlot_StartupTimeoutKillsProcess(t *testing.T) {
	launcher := &fakeLauncher{}
	slot := newTestSlot(launcher, &fakeProbe{never: true}, false)

	rec, err := slot.Start(context.Background(), StartRequest{})
	if !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("err = %v, want ErrStartupTimeout", err)
	}
	if rec.State != entity.SlotIdle || rec.Outcome != entity.OutcomeFailed {
		t.Errorf("after timeout: %+v", rec)
	}
	if !launcher.last().killed.Load() {
		t.Error("partially started process was not killed")
	}
}

func TestSlot_WorkerExitsDuringStartup(t *testing.T) {
	launcher := &fakeLauncher{setup: func(p *fakeProcess) { p.exit(entity.ExitNoCamera) }}
	slot := newTestSlot(launcher, &fakeProbe{never: true}, false)

	rec, err := slot.Start(context.Background(), StartRequest{})
	if !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("err = %v, want ErrStartupTimeout", err)
	}
	if rec.ExitCode == nil || *rec.ExitCode != entity.ExitNoCamera {
		t.Errorf("exit code not recorded: %+v", rec)
	}
}

func TestSlot_PrepareErrorFreesSlot(t *testing.T) {
	launcher := &fakeLauncher{}
	slot := newTestSlot(launcher, &fakeProbe{}, false)
	boom := errors.New("annotation missing")

	_, err := slot.Start(context.Background(), StartRequest{Prepare: func(context.Context) error { return boom }})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the prepare error", err)
	}
	if launcher.count() != 0 {
		t.Error("nothing may be launched when prepare fails")
	}
	if _, err := slot.Start(context.Background(), StartRequest{}); err != nil {
		t.Fatalf("slot not freed after prepare error: %v", err)
	}
}

func TestSlot_LaunchFailure(t *testing.T) {
	slot := newTestSlot(&fakeLauncher{err: errors.New("exec: not found")}, &fakeProbe{}, false)

	rec, err := slot.Start(context.Background(), StartRequest{})
	if !errors.Is(err, ErrLaunchFailed) {
		t.Fatalf("err = %v, want ErrLaunchFailed", err)
	}
	if rec.State != entity.SlotIdle {
		t.Errorf("state = %s", rec.State)
	}
}

// Scenario: the worker dies while healthy, the slot reports the crash and a
// new start launches a fresh process.
func TestSlot_CrashThenRestart(t *testing.T) {
	launcher := &fakeLauncher{}
	slot := newTestSlot(launcher, &fakeProbe{}, false)

	if _, err := slot.Start(context.Background(), StartRequest{SessionID: "old"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	launcher.last().exit(137)

	slot.check()
	rec := slot.Status()
	if rec.State != entity.SlotCrashed || rec.Status != "crashed" || rec.Running {
		t.Fatalf("after crash: %+v", rec)
	}
	if rec.ExitCode == nil || *rec.ExitCode != 137 || rec.LastError == "" {
		t.Errorf("crash details missing: %+v", rec)
	}

	rec, err := slot.Start(context.Background(), StartRequest{SessionID: "new"})
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if rec.SessionID != "new" || rec.ExitCode != nil || rec.LastError != "" {
		t.Errorf("restart carried old state: %+v", rec)
	}
	if launcher.count() != 2 {
		t.Errorf("launched %d processes, want 2", launcher.count())
	}
}

func TestSlot_StopOnCrashedAcknowledges(t *testing.T) {
	launcher := &fakeLauncher{}
	slot := newTestSlot(launcher, &fakeProbe{}, false)
	if _, err := slot.Start(context.Background(), StartRequest{}); err != nil {
		t.Fatal(err)
	}
	launcher.last().exit(1)

	rec, err := slot.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.State != entity.SlotIdle || rec.Outcome != entity.OutcomeCrashed {
		t.Errorf("after acknowledging crash: %+v", rec)
	}
}

func TestSlot_StopEscalatesToKill(t *testing.T) {
	launcher := &fakeLauncher{setup: func(p *fakeProcess) { p.exitOnTerminate = false }}
	slot := newTestSlot(launcher, &fakeProbe{}, false)
	if _, err := slot.Start(context.Background(), StartRequest{}); err != nil {
		t.Fatal(err)
	}

	rec, err := slot.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	p := launcher.last()
	if !p.terminated.Load() || !p.killed.Load() {
		t.Errorf("terminated=%v killed=%v, want both", p.terminated.Load(), p.killed.Load())
	}
	if rec.State != entity.SlotIdle {
		t.Errorf("state = %s, want idle", rec.State)
	}
}

func TestSlot_StopDuringStartup(t *testing.T) {
	launcher := &fakeLauncher{}
	slot := newTestSlot(launcher, &fakeProbe{}, false)

	entered := make(chan struct{})
	startErr := make(chan error, 1)
	go func() {
		_, err := slot.Start(context.Background(), StartRequest{Prepare: func(ctx context.Context) error {
			close(entered)
			<-ctx.Done()
			return ctx.Err()
		}})
		startErr <- err
	}()

	<-entered
	rec, err := slot.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.State != entity.SlotIdle {
		t.Errorf("state = %s, want idle", rec.State)
	}
	if err := <-startErr; err == nil {
		t.Error("start interrupted by stop reported success")
	}
}

func TestSlot_CompletionWorker(t *testing.T) {
	launcher := &fakeLauncher{}
	slot := newTestSlot(launcher, &fakeProbe{}, true)
	if _, err := slot.Start(context.Background(), StartRequest{}); err != nil {
		t.Fatal(err)
	}
	launcher.last().exit(0)

	rec := slot.Status()
	if rec.State != entity.SlotIdle || rec.Outcome != entity.OutcomeCompleted || rec.Status != "completed" {
		t.Errorf("after clean exit: %+v", rec)
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	records []entity.ProcessRecord
}

func (o *recordingObserver) SlotChanged(_ context.Context, rec entity.ProcessRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, rec)
}

func (o *recordingObserver) states() []entity.SlotState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]entity.SlotState, 0, len(o.records))
	for _, r := range o.records {
		out = append(out, r.State)
	}
	return out
}

func TestSupervisor_ObserverSeesTransitions(t *testing.T) {
	observer := &recordingObserver{}
	sup := New(quietLogger(), WithObserver(observer), WithMonitorInterval(5*time.Millisecond))
	sup.Register(SlotConfig{
		Kind:       entity.WorkerMeasurement,
		Launcher:   &fakeLauncher{},
		Probe:      &fakeProbe{},
		ReadyDelay: time.Millisecond,
	})
	sup.Run()

	if _, err := sup.Start(context.Background(), entity.WorkerMeasurement, StartRequest{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sup.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	states := observer.states()
	if len(states) == 0 || states[0] != entity.SlotStarting {
		t.Fatalf("states = %v, want to begin with starting", states)
	}
	sawHealthy := false
	for _, s := range states {
		if s == entity.SlotHealthy {
			sawHealthy = true
		}
	}
	if !sawHealthy {
		t.Errorf("states = %v, healthy never observed", states)
	}
}

func TestSupervisor_UnknownSlot(t *testing.T) {
	sup := New(quietLogger())
	if _, err := sup.Status(entity.WorkerCalibration); !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("err = %v, want ErrUnknownSlot", err)
	}
}

func TestSupervisor_ShutdownStopsEverySlot(t *testing.T) {
	measure, calibrate := &fakeLauncher{}, &fakeLauncher{}
	sup := New(quietLogger())
	sup.Register(SlotConfig{Kind: entity.WorkerMeasurement, Launcher: measure, Probe: &fakeProbe{}, ReadyDelay: time.Millisecond})
	sup.Register(SlotConfig{Kind: entity.WorkerCalibration, Launcher: calibrate, Probe: &fakeProbe{}, ReadyDelay: time.Millisecond})
	sup.Run()

	for _, kind := range []entity.WorkerKind{entity.WorkerMeasurement, entity.WorkerCalibration} {
		if _, err := sup.Start(context.Background(), kind, StartRequest{}); err != nil {
			t.Fatalf("Start %s: %v", kind, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if !measure.last().terminated.Load() || !calibrate.last().terminated.Load() {
		t.Error("shutdown left a worker running")
	}
	for _, record := range sup.Snapshot() {
		if record.State != entity.SlotIdle {
			t.Errorf("%s state = %s after shutdown", record.Kind, record.State)
		}
	}
}
