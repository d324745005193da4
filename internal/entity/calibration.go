package entity

import "time"

type CalibrationConfig struct {
	SessionID         string      `json:"session_id"`
	ReferenceLengthCm float64     `json:"reference_length_cm"`
	ReferencePoints   [][]float64 `json:"reference_points"`
	Samples           int         `json:"samples"`
	OutputPath        string      `json:"output_path"`
	CreatedAt         time.Time   `json:"created_at"`
}

// CalibrationDocument is camera_calibration.json.
type CalibrationDocument struct {
	PixelsPerCm       float64    `json:"pixels_per_cm"`
	ReferenceLengthCm float64    `json:"reference_length_cm"`
	IsCalibrated      bool       `json:"is_calibrated"`
	CalibrationDate   *time.Time `json:"calibration_date"`
	Samples           int        `json:"samples,omitempty"`
	RMSErrorPx        float64    `json:"rms_error_px,omitempty"`
}

func (d CalibrationDocument) Usable() bool {
	return d.IsCalibrated && d.PixelsPerCm > 0
}
