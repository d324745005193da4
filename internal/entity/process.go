package entity

import "time"

type WorkerKind string

const (
	WorkerMeasurement  WorkerKind = "measurement"
	WorkerCalibration  WorkerKind = "calibration"
	WorkerRegistration WorkerKind = "registration"
)

func (k WorkerKind) Valid() bool {
	return k == WorkerMeasurement || k == WorkerCalibration || k == WorkerRegistration
}

type SlotState string

const (
	SlotIdle     SlotState = "idle"
	SlotStarting SlotState = "starting"
	SlotHealthy  SlotState = "healthy"
	SlotStopping SlotState = "stopping"
	SlotCrashed  SlotState = "crashed"
)

type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeStopped   Outcome = "stopped"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCrashed   Outcome = "crashed"
)

// ProcessRecord is the supervisor's view of one worker slot.
type ProcessRecord struct {
	Kind              WorkerKind `json:"kind"`
	State             SlotState  `json:"state"`
	Running           bool       `json:"running"`
	PID               int        `json:"pid,omitempty"`
	SessionID         string     `json:"session_id,omitempty"`
	Label             string     `json:"annotation_name,omitempty"`
	Status            string     `json:"status"`
	LastError         string     `json:"error,omitempty"`
	ExitCode          *int       `json:"exit_code,omitempty"`
	Outcome           Outcome    `json:"outcome,omitempty"`
	StartedAt         *time.Time `json:"start_time,omitempty"`
	LastHealthCheckAt *time.Time `json:"last_health_check,omitempty"`
	StoppedAt         *time.Time `json:"stopped_at,omitempty"`
}

// LegacyStatus maps the state and the last outcome to the single word older
// clients poll for.
func (r ProcessRecord) LegacyStatus() string {
	switch r.State {
	case SlotStarting:
		return "starting"
	case SlotHealthy:
		return "running"
	case SlotStopping:
		return "stopping"
	case SlotCrashed:
		return "crashed"
	}

	switch r.Outcome {
	case OutcomeStopped:
		return "stopped"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCrashed:
		return "crashed"
	}
	return "idle"
}

// Worker exit statuses. The host reads them back from the reaped process to
// explain why a worker never became ready or stopped unexpectedly.
const (
	ExitOK              = 0
	ExitGeneric         = 1
	ExitConfigInvalid   = 2
	ExitIOFailure       = 3
	ExitNoCamera        = 10
	ExitGeometryMissing = 11
	ExitGeometryInvalid = 12
)

func ExitReason(code int) string {
	switch code {
	case ExitOK:
		return "exited normally"
	case ExitConfigInvalid:
		return "worker config invalid"
	case ExitIOFailure:
		return "results could not be written"
	case ExitNoCamera:
		return "no camera available"
	case ExitGeometryMissing:
		return "annotation file missing"
	case ExitGeometryInvalid:
		return "annotation file could not be loaded"
	case -1:
		return "killed by signal"
	}
	return "worker failed"
}
