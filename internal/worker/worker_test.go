package worker

import (
	"context"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/channel"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/paths"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/camera"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/fileutil"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/vision"
	"github.com/sirupsen/logrus"
)

type fakeCamera struct {
	openErr error
	block   bool

	mu     sync.Mutex
	seq    uint64
	closed bool
}

func (c *fakeCamera) Open(context.Context) error { return c.openErr }

func (c *fakeCamera) Read(ctx context.Context) (camera.Frame, error) {
	if c.block {
		<-ctx.Done()
		return camera.Frame{}, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return camera.Frame{Image: image.NewGray(image.Rect(0, 0, 100, 100)), Seq: c.seq, CapturedAt: time.Now()}, nil
}

func (c *fakeCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeCamera) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func fptr(v float64) *float64 { return &v }

func testOptions(t *testing.T, cam camera.Source) Options {
	t.Helper()
	root := t.TempDir()
	return Options{
		Layout:         paths.New(root, root),
		Log:            quietLogger(),
		Camera:         cam,
		Estimator:      vision.StaticEstimator{},
		Calibrator:     vision.StaticCalibrator{},
		TickInterval:   5 * time.Millisecond,
		AcquireTimeout: 20 * time.Millisecond,
		PID:            4321,
	}
}

func writeGeometry(t *testing.T, dir string, geometry entity.Geometry) string {
	t.Helper()
	path := filepath.Join(dir, "annotation.json")
	if err := fileutil.WriteJSONAtomic(path, geometry); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeMeasurementConfig(t *testing.T, opts Options, cfg entity.MeasurementConfig) {
	t.Helper()
	if err := channel.ForMeasurement(opts.Layout).Write(cfg); err != nil {
		t.Fatal(err)
	}
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	return exitErr.Code
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestMeasurementWorker_StartupFailures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, opts Options)
		camera   *fakeCamera
		wantCode int
	}{
		{
			name:     "no config",
			setup:    func(t *testing.T, opts Options) {},
			camera:   &fakeCamera{},
			wantCode: entity.ExitConfigInvalid,
		},
		{
			name: "geometry missing",
			setup: func(t *testing.T, opts Options) {
				writeMeasurementConfig(t, opts, entity.MeasurementConfig{
					AnnotationJSONPath: filepath.Join(opts.Layout.StorageRoot, "nope.json"),
				})
			},
			camera:   &fakeCamera{},
			wantCode: entity.ExitGeometryMissing,
		},
		{
			name: "geometry unreadable",
			setup: func(t *testing.T, opts Options) {
				path := filepath.Join(opts.Layout.StorageRoot, "broken.json")
				if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
					t.Fatal(err)
				}
				writeMeasurementConfig(t, opts, entity.MeasurementConfig{AnnotationJSONPath: path})
			},
			camera:   &fakeCamera{},
			wantCode: entity.ExitGeometryInvalid,
		},
		{
			name: "reference image missing",
			setup: func(t *testing.T, opts Options) {
				writeMeasurementConfig(t, opts, entity.MeasurementConfig{
					AnnotationJSONPath: writeGeometry(t, opts.Layout.StorageRoot, entity.Geometry{Keypoints: [][]float64{{0, 0}, {1, 1}}}),
					ReferenceImagePath: filepath.Join(opts.Layout.StorageRoot, "missing.jpg"),
				})
			},
			camera:   &fakeCamera{},
			wantCode: entity.ExitConfigInvalid,
		},
		{
			name: "no camera",
			setup: func(t *testing.T, opts Options) {
				writeMeasurementConfig(t, opts, entity.MeasurementConfig{
					AnnotationJSONPath: writeGeometry(t, opts.Layout.StorageRoot, entity.Geometry{Keypoints: [][]float64{{0, 0}, {1, 1}}}),
				})
			},
			camera:   &fakeCamera{openErr: camera.ErrNoCamera},
			wantCode: entity.ExitNoCamera,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t, tt.camera)
			tt.setup(t, opts)

			err := NewMeasurementWorker(opts).Run(context.Background())
			if got := exitCode(t, err); got != tt.wantCode {
				t.Errorf("exit code = %d, want %d (%v)", got, tt.wantCode, err)
			}
			if fileutil.Exists(opts.Layout.ReadyFile(entity.WorkerMeasurement)) {
				t.Error("a worker that failed startup must not leave a readiness marker")
			}
		})
	}
}

func TestMeasurementWorker_TicksUntilStopped(t *testing.T) {
	cam := &fakeCamera{}
	opts := testOptions(t, cam)
	root := opts.Layout.StorageRoot

	if err := channel.WriteCalibrationDocument(opts.Layout.CalibrationFile(), entity.CalibrationDocument{
		PixelsPerCm:  2,
		IsCalibrated: true,
	}); err != nil {
		t.Fatal(err)
	}

	resultsDir := filepath.Join(root, "results")
	writeMeasurementConfig(t, opts, entity.MeasurementConfig{
		SessionID:          "s-1",
		AnnotationJSONPath: writeGeometry(t, root, entity.Geometry{Keypoints: [][]float64{{0, 0}, {60, 80}}}),
		ResultsPath:        resultsDir,
		MeasurementSpecs: []entity.MeasurementSpec{
			{ID: 7, Code: "A", ExpectedValue: fptr(50)},
			{ID: 8, Code: "B", ExpectedValue: fptr(10)},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewMeasurementWorker(opts).Run(ctx) }()

	marker := opts.Layout.ReadyFile(entity.WorkerMeasurement)
	waitFor(t, func() bool { return fileutil.Exists(marker) })

	live := filepath.Join(resultsDir, entity.LiveSnapshotName)
	waitFor(t, func() bool {
		var doc entity.LiveResultDocument
		return fileutil.ReadJSON(live, &doc) == nil && doc.Tick >= 3
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	var doc entity.LiveResultDocument
	if err := fileutil.ReadJSON(live, &doc); err != nil {
		t.Fatal(err)
	}
	if !doc.IsCalibrated || doc.SessionID != "s-1" || len(doc.Measurements) != 2 {
		t.Fatalf("doc = %+v", doc)
	}

	a, b := doc.Measurements[0], doc.Measurements[1]
	if a.ActualCm == nil || *a.ActualCm != 50 || !a.QCPassed || a.IsFallback {
		t.Errorf("spec A = %+v", a)
	}
	if b.ActualCm != nil || b.QCPassed {
		t.Errorf("spec B was never observed and must be null, got %+v", b)
	}

	if fileutil.Exists(marker) {
		t.Error("readiness marker left behind after stop")
	}
	if !cam.isClosed() {
		t.Error("camera not released")
	}
}

func TestMeasurementWorker_AcquisitionTimeoutSkipsTick(t *testing.T) {
	opts := testOptions(t, &fakeCamera{block: true})
	writeMeasurementConfig(t, opts, entity.MeasurementConfig{
		AnnotationJSONPath: writeGeometry(t, opts.Layout.StorageRoot, entity.Geometry{Keypoints: [][]float64{{0, 0}, {1, 1}}}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewMeasurementWorker(opts).Run(ctx) }()

	live := opts.Layout.LiveSnapshot()
	waitFor(t, func() bool {
		var doc entity.LiveResultDocument
		return fileutil.ReadJSON(live, &doc) == nil && doc.Tick >= 2
	})
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	var doc entity.LiveResultDocument
	if err := fileutil.ReadJSON(live, &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Measurements) != 0 {
		t.Errorf("no frame was ever acquired, got %+v", doc.Measurements)
	}
}

func writeCalibrationConfig(t *testing.T, opts Options, cfg entity.CalibrationConfig) {
	t.Helper()
	if err := channel.ForCalibration(opts.Layout).Write(cfg); err != nil {
		t.Fatal(err)
	}
}

func TestCalibrationWorker_Completes(t *testing.T) {
	opts := testOptions(t, &fakeCamera{})
	opts.Now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	writeCalibrationConfig(t, opts, entity.CalibrationConfig{
		ReferenceLengthCm: 25,
		ReferencePoints:   [][]float64{{10, 10}, {10, 260}},
		Samples:           4,
	})

	if err := NewCalibrationWorker(opts).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	doc, path, err := channel.ReadCalibrationDocument(opts.Layout.CalibrationCandidates()...)
	if err != nil {
		t.Fatal(err)
	}
	if path != opts.Layout.CalibrationFile() {
		t.Errorf("written to %s", path)
	}
	if doc.PixelsPerCm != 10 || !doc.IsCalibrated || doc.Samples != 4 || doc.RMSErrorPx != 0 {
		t.Errorf("doc = %+v", doc)
	}
	if doc.CalibrationDate == nil || !doc.CalibrationDate.Equal(opts.Now()) {
		t.Errorf("calibration_date = %v", doc.CalibrationDate)
	}
	if fileutil.Exists(opts.Layout.ReadyFile(entity.WorkerCalibration)) {
		t.Error("readiness marker left behind")
	}
}

// flakyCalibrator fails its first failures calls, then measures like the
// static engine.
type flakyCalibrator struct {
	failures int
	calls    int
}

func (c *flakyCalibrator) Measure(ctx context.Context, frame camera.Frame, cfg entity.CalibrationConfig) (float64, bool, error) {
	c.calls++
	if c.calls <= c.failures {
		return 0, false, errors.New("vision service: connection reset")
	}
	return vision.StaticCalibrator{}.Measure(ctx, frame, cfg)
}

func TestCalibrationWorker_EngineErrorsAreRetried(t *testing.T) {
	opts := testOptions(t, &fakeCamera{})
	opts.Calibrator = &flakyCalibrator{failures: 2}
	writeCalibrationConfig(t, opts, entity.CalibrationConfig{
		ReferenceLengthCm: 25,
		ReferencePoints:   [][]float64{{10, 10}, {10, 260}},
		Samples:           3,
	})

	if err := NewCalibrationWorker(opts).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	doc, _, err := channel.ReadCalibrationDocument(opts.Layout.CalibrationCandidates()...)
	if err != nil {
		t.Fatal(err)
	}
	if doc.PixelsPerCm != 10 || doc.Samples != 3 {
		t.Errorf("doc = %+v", doc)
	}
}

func TestCalibrationWorker_EngineErrorsExhaustAttempts(t *testing.T) {
	opts := testOptions(t, &fakeCamera{})
	calibrator := &flakyCalibrator{failures: 1 << 30}
	opts.Calibrator = calibrator
	writeCalibrationConfig(t, opts, entity.CalibrationConfig{
		ReferenceLengthCm: 25,
		ReferencePoints:   [][]float64{{10, 10}, {10, 260}},
		Samples:           2,
	})

	err := NewCalibrationWorker(opts).Run(context.Background())
	if got := exitCode(t, err); got != entity.ExitGeneric {
		t.Errorf("exit code = %d, want generic after the attempt budget", got)
	}
	if calibrator.calls != 2*calibrationAttemptsPerSample {
		t.Errorf("calls = %d", calibrator.calls)
	}
	if fileutil.Exists(opts.Layout.CalibrationFile()) {
		t.Error("failed calibration wrote a document")
	}
}

func TestCalibrationWorker_MalformedReferenceSpan(t *testing.T) {
	opts := testOptions(t, &fakeCamera{})
	writeCalibrationConfig(t, opts, entity.CalibrationConfig{
		ReferenceLengthCm: 25,
		ReferencePoints:   [][]float64{{10}, {10}},
		Samples:           2,
	})

	err := NewCalibrationWorker(opts).Run(context.Background())
	if got := exitCode(t, err); got != entity.ExitConfigInvalid {
		t.Errorf("exit code = %d", got)
	}
}

func TestCalibrationWorker_InvalidRequest(t *testing.T) {
	opts := testOptions(t, &fakeCamera{})
	writeCalibrationConfig(t, opts, entity.CalibrationConfig{ReferenceLengthCm: 0})

	err := NewCalibrationWorker(opts).Run(context.Background())
	if got := exitCode(t, err); got != entity.ExitConfigInvalid {
		t.Errorf("exit code = %d", got)
	}
}

func TestCalibrationWorker_CancelKeepsPreviousDocument(t *testing.T) {
	opts := testOptions(t, &fakeCamera{block: true})
	opts.AcquireTimeout = 200 * time.Millisecond
	writeCalibrationConfig(t, opts, entity.CalibrationConfig{
		ReferenceLengthCm: 25,
		ReferencePoints:   [][]float64{{0, 0}, {0, 100}},
		Samples:           3,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewCalibrationWorker(opts).Run(ctx) }()

	waitFor(t, func() bool { return fileutil.Exists(opts.Layout.ReadyFile(entity.WorkerCalibration)) })
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fileutil.Exists(opts.Layout.CalibrationFile()) {
		t.Error("a cancelled calibration must not write a document")
	}
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New(entity.WorkerKind("scanner"), Options{})
	if got := exitCode(t, err); got != entity.ExitGeneric {
		t.Errorf("exit code = %d", got)
	}
}

func TestStopContext_StdinClosed(t *testing.T) {
	r, w := io.Pipe()
	ctx, cancel := StopContext(context.Background(), true, r)
	defer cancel()

	select {
	case <-ctx.Done():
		t.Fatal("stopped before stdin closed")
	case <-time.After(20 * time.Millisecond):
	}

	_ = w.Close()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("closing stdin did not stop the worker")
	}
}

func writeRegistrationConfig(t *testing.T, opts Options, cfg entity.RegistrationConfig) {
	t.Helper()
	if err := channel.ForRegistration(opts.Layout).Write(cfg); err != nil {
		t.Fatal(err)
	}
}

func TestRegistrationWorker_WritesAnnotationFolder(t *testing.T) {
	opts := testOptions(t, &fakeCamera{})
	opts.Now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	dir := filepath.Join(opts.Layout.AnnotationsDir(), "M")
	writeRegistrationConfig(t, opts, entity.RegistrationConfig{
		Size:               "M",
		Side:               "back",
		AnnotationDir:      dir,
		Keypoints:          [][]float64{{1, 2}, {3, 4}},
		KeypointNames:      []string{"chest_l", "chest_r"},
		ReferenceDistances: []float64{52.5},
	})

	worker, err := New(entity.WorkerRegistration, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !fileutil.Exists(filepath.Join(dir, "back_reference.jpg")) {
		t.Error("reference image not written")
	}
	var geometry entity.Geometry
	if err := fileutil.ReadJSON(filepath.Join(dir, "back_annotation.json"), &geometry); err != nil {
		t.Fatal(err)
	}
	if len(geometry.Keypoints) != 2 || geometry.ImageWidth != 100 || geometry.ImageHeight != 100 {
		t.Errorf("geometry = %+v", geometry)
	}
	if geometry.Size != "M" || geometry.Side != "back" || geometry.Source != "registration" {
		t.Errorf("geometry = %+v", geometry)
	}
	if geometry.AnnotationDate != "2026-03-04T05:06:07Z" {
		t.Errorf("annotation_date = %q", geometry.AnnotationDate)
	}
	if fileutil.Exists(opts.Layout.ReadyFile(entity.WorkerRegistration)) {
		t.Error("readiness marker left behind")
	}
}

func TestRegistrationWorker_InvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		cfg  entity.RegistrationConfig
	}{
		{"unknown size", entity.RegistrationConfig{Size: "XS", Side: "front", AnnotationDir: "x", Keypoints: [][]float64{{0, 0}, {1, 1}}}},
		{"unknown side", entity.RegistrationConfig{Size: "M", Side: "left", AnnotationDir: "x", Keypoints: [][]float64{{0, 0}, {1, 1}}}},
		{"single keypoint", entity.RegistrationConfig{Size: "M", Side: "front", AnnotationDir: "x", Keypoints: [][]float64{{0, 0}}}},
		{"short keypoint", entity.RegistrationConfig{Size: "M", Side: "front", AnnotationDir: "x", Keypoints: [][]float64{{0, 0}, {1}}}},
		{"no folder", entity.RegistrationConfig{Size: "M", Side: "front", Keypoints: [][]float64{{0, 0}, {1, 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t, &fakeCamera{})
			writeRegistrationConfig(t, opts, tt.cfg)

			err := NewRegistrationWorker(opts).Run(context.Background())
			if got := exitCode(t, err); got != entity.ExitConfigInvalid {
				t.Errorf("exit code = %d", got)
			}
		})
	}
}

func TestRegistrationWorker_NoCamera(t *testing.T) {
	opts := testOptions(t, &fakeCamera{openErr: errors.New("no device")})
	writeRegistrationConfig(t, opts, entity.RegistrationConfig{
		Size: "L", Side: "front", AnnotationDir: t.TempDir(), Keypoints: [][]float64{{0, 0}, {1, 1}},
	})

	err := NewRegistrationWorker(opts).Run(context.Background())
	if got := exitCode(t, err); got != entity.ExitNoCamera {
		t.Errorf("exit code = %d", got)
	}
}

func TestRegistrationWorker_CancelWritesNothing(t *testing.T) {
	opts := testOptions(t, &fakeCamera{block: true})
	opts.AcquireTimeout = 200 * time.Millisecond
	dir := filepath.Join(opts.Layout.AnnotationsDir(), "S")
	writeRegistrationConfig(t, opts, entity.RegistrationConfig{
		Size: "S", Side: "front", AnnotationDir: dir, Keypoints: [][]float64{{0, 0}, {1, 1}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRegistrationWorker(opts).Run(ctx) }()

	waitFor(t, func() bool { return fileutil.Exists(opts.Layout.ReadyFile(entity.WorkerRegistration)) })
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("cancelled registration created %s: %v", dir, err)
	}
}
