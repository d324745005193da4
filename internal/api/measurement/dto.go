package measurement

import (
	"bytes"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	jsoniter "github.com/json-iterator/go"
)

// Lenient decodes either a JSON value or a string holding that JSON value.
// The catalogue sends geometry columns both ways.
type Lenient[T any] struct {
	Value T
	Set   bool
}

func (l *Lenient[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var raw string
		if err := jsoniter.Unmarshal(data, &raw); err != nil {
			return err
		}
		if raw == "" {
			return nil
		}
		data = []byte(raw)
	}

	if err := jsoniter.Unmarshal(data, &l.Value); err != nil {
		return err
	}
	l.Set = true
	return nil
}

func (l Lenient[T]) MarshalJSON() ([]byte, error) {
	if !l.Set {
		return []byte("null"), nil
	}
	return jsoniter.Marshal(l.Value)
}

// PercentPoint is a keypoint placed as a percentage of the reference image.
type PercentPoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label string  `json:"label,omitempty"`
}

type StartMeasurementRequest struct {
	AnnotationName string `json:"annotation_name" validate:"required,max=128"`
	ArticleStyle   string `json:"article_style" validate:"max=128"`
	Side           string `json:"side" validate:"omitempty,oneof=front back"`
	GarmentColor   string `json:"garment_color" validate:"max=32"`
	ColorCode      string `json:"color_code" validate:"max=8"`

	KeypointsPixels Lenient[[][]float64]        `json:"keypoints_pixels"`
	TargetDistances Lenient[map[string]float64] `json:"target_distances"`
	PlacementBox    Lenient[[]float64]          `json:"placement_box"`
	AnnotationData  Lenient[[]PercentPoint]     `json:"annotation_data"`
	ImageWidth      int                         `json:"image_width" validate:"gte=0"`
	ImageHeight     int                         `json:"image_height" validate:"gte=0"`
	ImageData       string                      `json:"image_data"`
	ImageMimeType   string                      `json:"image_mime_type"`

	AnnotationJSONPath string `json:"annotation_json_path"`
	ReferenceImagePath string `json:"reference_image_path"`

	MeasurementSpecs Lenient[[]entity.MeasurementSpec] `json:"measurement_specs"`
}

type StartMeasurementResponse struct {
	SessionID          string               `json:"session_id"`
	AnnotationName     string               `json:"annotation_name"`
	Side               string               `json:"side"`
	AnnotationJSONPath string               `json:"annotation_json_path"`
	ReferenceImagePath string               `json:"reference_image_path,omitempty"`
	AnnotationSource   string               `json:"annotation_source"`
	Process            entity.ProcessRecord `json:"process"`
}

// StatusResponse keeps running at the top level; older UI builds only read
// that field.
type StatusResponse struct {
	Running bool                 `json:"running"`
	Status  string               `json:"status"`
	Data    entity.ProcessRecord `json:"data"`
}

type AnnotationInfo struct {
	Name          string  `json:"name"`
	ArticleStyle  *string `json:"article_style"`
	Size          string  `json:"size"`
	Format        string  `json:"format"`
	HasAnnotation bool    `json:"has_annotation,omitempty"`
	HasImage      bool    `json:"has_image,omitempty"`
	HasFront      bool    `json:"has_front,omitempty"`
	HasBack       bool    `json:"has_back,omitempty"`
	HasFrontImage bool    `json:"has_front_image,omitempty"`
	HasBackImage  bool    `json:"has_back_image,omitempty"`
}

type AnnotationList struct {
	Annotations []AnnotationInfo `json:"annotations"`
	Count       int              `json:"count"`
	Path        string           `json:"path"`
}

type ReferenceMeasurement struct {
	ID             int     `json:"id"`
	Name           string  `json:"name"`
	ActualCm       float64 `json:"actual_cm"`
	TolerancePlus  float64 `json:"tolerance_plus"`
	ToleranceMinus float64 `json:"tolerance_minus"`
}

type AnnotationMeasurements struct {
	Size              string                 `json:"size"`
	Measurements      []ReferenceMeasurement `json:"measurements"`
	TotalMeasurements int                    `json:"total_measurements"`
}

// ExportAnnotationRequest copies a bundled annotation folder into the
// operator library. TargetName defaults to the source name.
type ExportAnnotationRequest struct {
	AnnotationName string `json:"annotation_name" validate:"required,max=128"`
	TargetName     string `json:"target_name" validate:"max=128"`
}

type ExportAnnotationResponse struct {
	Source      string   `json:"source"`
	Target      string   `json:"target"`
	CopiedFiles []string `json:"copied_files"`
}
