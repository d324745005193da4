package measurement

import "github.com/AbdullahRaoo/magicqc-op-sub001/pkg/response"

var (
	ErrAnnotationNotFound = response.NewError(404, "annotation not found")
	ErrInvalidImage       = response.NewError(400, "reference image is corrupted or unreadable")
	ErrInvalidGeometry    = response.NewError(400, "annotation geometry invalid")
	ErrInvalidRequest     = response.NewError(400, "invalid measurement request")
)
