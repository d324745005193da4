package entity

import "time"

const LiveSnapshotName = "live_measurements.json"

// LiveResultDocument is the snapshot a measurement worker persists on every
// tick. Field names are consumed by the operator UI and must stay stable.
type LiveResultDocument struct {
	Timestamp      time.Time         `json:"timestamp"`
	SessionID      string            `json:"session_id"`
	AnnotationName string            `json:"annotation_name"`
	ArticleStyle   string            `json:"article_style,omitempty"`
	Side           string            `json:"side"`
	GarmentColor   string            `json:"garment_color"`
	IsCalibrated   bool              `json:"is_calibrated"`
	PixelsPerCm    float64           `json:"pixels_per_cm"`
	Tick           uint64            `json:"tick"`
	ResultsPath    string            `json:"results_path"`
	Measurements   []LiveMeasurement `json:"measurements"`
}

// LiveMeasurement is one entry of the snapshot. ActualCm is null until the
// pair has been observed with a positive distance at least once.
type LiveMeasurement struct {
	ID             int      `json:"id"`
	Name           string   `json:"name"`
	SpecID         *int64   `json:"spec_id"`
	SpecCode       string   `json:"spec_code"`
	ActualCm       *float64 `json:"actual_cm"`
	PixelDistance  float64  `json:"pixel_distance"`
	ExpectedValue  *float64 `json:"expected_value"`
	TolerancePlus  float64  `json:"tolerance_plus"`
	ToleranceMinus float64  `json:"tolerance_minus"`
	QCPassed       bool     `json:"qc_passed"`
	IsFallback     bool     `json:"is_fallback"`
}
