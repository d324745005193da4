package registration

import "github.com/AbdullahRaoo/magicqc-op-sub001/pkg/response"

var ErrRegistrationExists = response.NewError(409, "annotation already registered for this size")
