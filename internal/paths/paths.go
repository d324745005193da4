package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
)

const (
	EnvAppRoot        = "APP_ROOT"
	EnvStorageRoot    = "MAGICQC_STORAGE_ROOT"
	EnvAnnotationsDir = "ANNOTATIONS_DIR"

	measurementConfigName  = "measurement_config.json"
	calibrationConfigName  = "calibration_config.json"
	registrationConfigName = "registration_config.json"
	calibrationName        = "camera_calibration.json"
)

// Layout resolves every path the host and the workers share. Both sides build
// it from the same environment, so relative locations agree no matter which
// directory a binary was started from.
type Layout struct {
	AppRoot        string
	StorageRoot    string
	annotationsDir string
}

func Resolve() (Layout, error) {
	appRoot := os.Getenv(EnvAppRoot)
	if appRoot == "" {
		root, err := executableRoot()
		if err != nil {
			return Layout{}, err
		}
		appRoot = root
	}

	appRoot, err := filepath.Abs(appRoot)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve application root: %w", err)
	}

	storageRoot := os.Getenv(EnvStorageRoot)
	if storageRoot == "" {
		storageRoot = appRoot
	}
	storageRoot, err = filepath.Abs(storageRoot)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve storage root: %w", err)
	}

	layout := New(appRoot, storageRoot)
	if dir := os.Getenv(EnvAnnotationsDir); dir != "" {
		layout.annotationsDir = dir
	}
	return layout, nil
}

func New(appRoot, storageRoot string) Layout {
	return Layout{AppRoot: appRoot, StorageRoot: storageRoot}
}

// executableRoot is the directory holding the binary, or its parent when the
// binary sits in a bin directory. Binaries built by go run live in the OS temp
// directory, in which case the working directory is used.
func executableRoot() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return os.Getwd()
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	dir := filepath.Dir(exe)
	if strings.HasPrefix(dir, filepath.Clean(os.TempDir())) {
		return os.Getwd()
	}
	if strings.EqualFold(filepath.Base(dir), "bin") {
		return filepath.Dir(dir), nil
	}
	return dir, nil
}

func (l Layout) ResultsDir() string {
	return filepath.Join(l.StorageRoot, "storage", "measurement_results")
}

func (l Layout) LegacyResultsDir() string {
	return filepath.Join(l.AppRoot, "measurement_results")
}

func (l Layout) LiveSnapshot() string {
	return filepath.Join(l.ResultsDir(), entity.LiveSnapshotName)
}

func (l Layout) MeasurementConfigFile() string {
	return filepath.Join(l.StorageRoot, measurementConfigName)
}

func (l Layout) CalibrationConfigFile() string {
	return filepath.Join(l.StorageRoot, calibrationConfigName)
}

func (l Layout) RegistrationConfigFile() string {
	return filepath.Join(l.StorageRoot, registrationConfigName)
}

func (l Layout) CalibrationFile() string {
	return filepath.Join(l.StorageRoot, calibrationName)
}

// CalibrationCandidates lists where a calibration document is looked up, the
// writable storage copy first.
func (l Layout) CalibrationCandidates() []string {
	primary := l.CalibrationFile()
	fallback := filepath.Join(l.AppRoot, calibrationName)
	if primary == fallback {
		return []string{primary}
	}
	return []string{primary, fallback}
}

func (l Layout) TempAnnotationsDir() string {
	return filepath.Join(l.StorageRoot, "temp_annotations")
}

func (l Layout) AnnotationsDir() string {
	if l.annotationsDir != "" {
		return l.annotationsDir
	}
	return filepath.Join(l.StorageRoot, "annotations")
}

// BundledAnnotationsDir is the read-only library shipped with the
// application, the source of annotation exports.
func (l Layout) BundledAnnotationsDir() string {
	return filepath.Join(l.AppRoot, "annotations")
}

func (l Layout) LogsDir() string {
	return filepath.Join(l.StorageRoot, "logs")
}

func (l Layout) RunDir() string {
	return filepath.Join(l.StorageRoot, "run")
}

func (l Layout) ReadyFile(kind entity.WorkerKind) string {
	return filepath.Join(l.RunDir(), string(kind)+".ready")
}

// WithAnnotationsDir returns a copy whose annotation library lives in dir.
func (l Layout) WithAnnotationsDir(dir string) Layout {
	l.annotationsDir = dir
	return l
}
