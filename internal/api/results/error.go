package results

import "github.com/AbdullahRaoo/magicqc-op-sub001/pkg/response"

var (
	ErrNotFound   = response.NewError(404, "measurement results not found")
	ErrReadFailed = response.NewError(500, "measurement results could not be read")
)
