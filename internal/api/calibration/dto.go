package calibration

import (
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
)

type StartCalibrationRequest struct {
	ReferenceLengthCm float64     `json:"reference_length_cm" validate:"gt=0"`
	ReferencePoints   [][]float64 `json:"reference_points" validate:"len=2,dive,len=2"`
	Samples           int         `json:"samples" validate:"gte=0,lte=500"`
}

type StartCalibrationResponse struct {
	SessionID string               `json:"session_id"`
	Process   entity.ProcessRecord `json:"process"`
}

// UploadCalibrationRequest stores a scale measured elsewhere. IsCalibrated
// defaults to true when omitted.
type UploadCalibrationRequest struct {
	PixelsPerCm       float64 `json:"pixels_per_cm"`
	ReferenceLengthCm float64 `json:"reference_length_cm" validate:"gte=0"`
	IsCalibrated      *bool   `json:"is_calibrated"`
}

type CalibrationStatus struct {
	Running           bool                 `json:"running"`
	Status            string               `json:"status"`
	Calibrated        bool                 `json:"calibrated"`
	PixelsPerCm       float64              `json:"pixels_per_cm"`
	ReferenceLengthCm float64              `json:"reference_length_cm"`
	CalibrationDate   *time.Time           `json:"calibration_date"`
	CalibrationFile   string               `json:"calibration_file,omitempty"`
	Process           entity.ProcessRecord `json:"process"`
}
