package registration

import "github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"

// StartRegistrationRequest registers a reference frame for one size. Side
// defaults to front.
type StartRegistrationRequest struct {
	Size               string      `json:"size" validate:"required,oneof=S M L XL XXL"`
	Side               string      `json:"side" validate:"omitempty,oneof=front back"`
	Overwrite          bool        `json:"overwrite"`
	Keypoints          [][]float64 `json:"keypoints_pixels" validate:"min=2,dive,len=2"`
	KeypointNames      []string    `json:"keypoint_names"`
	ReferenceDistances []float64   `json:"reference_distances" validate:"dive,gte=0"`
}

type StartRegistrationResponse struct {
	SessionID     string               `json:"session_id"`
	Size          string               `json:"size"`
	Side          string               `json:"side"`
	AnnotationDir string               `json:"annotation_path"`
	Process       entity.ProcessRecord `json:"process"`
}

type RegistrationStatus struct {
	Running bool                 `json:"running"`
	Size    string               `json:"size,omitempty"`
	Status  string               `json:"status"`
	Error   string               `json:"error,omitempty"`
	Process entity.ProcessRecord `json:"process"`
}
