package entity

import "time"

// MeasurementConfig is what the host hands to a measurement worker. It is
// written once per start and never modified while a worker reads it.
type MeasurementConfig struct {
	SessionID          string            `json:"session_id"`
	AnnotationName     string            `json:"annotation_name"`
	ArticleStyle       string            `json:"article_style"`
	AnnotationJSONPath string            `json:"annotation_json_path"`
	ReferenceImagePath string            `json:"reference_image_path,omitempty"`
	Side               string            `json:"side"`
	GarmentColor       string            `json:"garment_color"`
	ColorCode          string            `json:"color_code"`
	ResultsPath        string            `json:"results_path"`
	MeasurementSpecs   []MeasurementSpec `json:"measurement_specs"`
	CreatedAt          time.Time         `json:"created_at"`
}

type MeasurementSpec struct {
	ID            int64    `json:"id"`
	PairID        int      `json:"pair_id,omitempty"`
	Code          string   `json:"code"`
	Name          string   `json:"name,omitempty"`
	ExpectedValue *float64 `json:"expected_value"`
	TolPlus       *float64 `json:"tol_plus,omitempty"`
	TolMinus      *float64 `json:"tol_minus,omitempty"`
	Unit          string   `json:"unit,omitempty"`
}

const DefaultToleranceCm = 1.0

// Pair returns the pair this spec is measured on: the explicit pair id, or
// the 1-based position of the spec in its request.
func (s MeasurementSpec) Pair(index int) int {
	if s.PairID > 0 {
		return s.PairID
	}
	return index + 1
}

func (s MeasurementSpec) Tolerances() (plus float64, minus float64) {
	plus, minus = DefaultToleranceCm, DefaultToleranceCm
	if s.TolPlus != nil {
		plus = *s.TolPlus
	}
	if s.TolMinus != nil {
		minus = *s.TolMinus
	}
	return plus, minus
}

// Geometry is the annotation document: reference keypoints in pixels of the
// reference image. Consecutive keypoints form the measured pairs.
type Geometry struct {
	Keypoints          [][]float64        `json:"keypoints"`
	KeypointNames      []string           `json:"keypoint_names,omitempty"`
	TargetDistances    map[string]float64 `json:"target_distances,omitempty"`
	ReferenceDistances []float64          `json:"reference_distances,omitempty"`
	PlacementBox       []float64          `json:"placement_box,omitempty"`
	ImageWidth         int                `json:"image_width,omitempty"`
	ImageHeight        int                `json:"image_height,omitempty"`
	AnnotationDate     string             `json:"annotation_date,omitempty"`
	Source             string             `json:"source,omitempty"`
	ArticleStyle       string             `json:"article_style,omitempty"`
	Size               string             `json:"size,omitempty"`
	Side               string             `json:"side,omitempty"`
}

func (g Geometry) PairCount() int {
	return len(g.Keypoints) / 2
}

// Observation is one pair measured on one tick.
type Observation struct {
	PairID        int     `json:"pair_id"`
	DistanceCm    float64 `json:"distance_cm"`
	PixelDistance float64 `json:"pixel_distance,omitempty"`
	Passes        bool    `json:"passes"`
	IsFallback    bool    `json:"is_fallback"`
}

// ObservationSet holds the observations of a single tick. A pair missing from
// the set was not measured on that tick.
type ObservationSet []Observation
