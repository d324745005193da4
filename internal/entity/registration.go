package entity

import "time"

// RegistrationSizes are the sizes a garment can be registered under.
var RegistrationSizes = []string{"S", "M", "L", "XL", "XXL"}

// RegistrationConfig asks the registration worker to capture a reference
// frame and store it with its keypoints as a library annotation folder.
type RegistrationConfig struct {
	SessionID          string      `json:"session_id"`
	Size               string      `json:"size"`
	Side               string      `json:"side"`
	AnnotationDir      string      `json:"annotation_path"`
	Keypoints          [][]float64 `json:"keypoints"`
	KeypointNames      []string    `json:"keypoint_names,omitempty"`
	ReferenceDistances []float64   `json:"reference_distances,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
}

func (c RegistrationConfig) AnnotationFile() string {
	return c.Side + "_annotation.json"
}

func (c RegistrationConfig) ReferenceImageFile() string {
	return c.Side + "_reference.jpg"
}
