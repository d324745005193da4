package calibration

import "github.com/AbdullahRaoo/magicqc-op-sub001/pkg/response"

var (
	ErrInvalidScale    = response.NewError(400, "pixels_per_cm must be a positive number")
	ErrCalibrationBusy = response.NewError(409, "calibration is in progress")
)
