package supervisor

import (
	"net/http"

	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/response"
)

var (
	ErrAlreadyRunning = response.NewError(http.StatusConflict, "worker already running")
	ErrStartupTimeout = response.NewError(http.StatusGatewayTimeout, "worker did not become ready")
	ErrStartCancelled = response.NewError(http.StatusConflict, "worker start cancelled")
	ErrLaunchFailed   = response.NewError(http.StatusInternalServerError, "worker could not be launched")
	ErrProcessCrashed = response.NewError(http.StatusInternalServerError, "worker exited unexpectedly")
	ErrUnknownSlot    = response.NewError(http.StatusInternalServerError, "unknown worker slot")
)
