package models

import (
	"errors"
	"fmt"

	"github.com/genforge/genforge/pkg/corerr"
)

// ErrAlreadyExists is returned by Manager.Download when a ModelInfo already
// exists under the requested id (spec §4.2 step 1, the idempotency guard).
var ErrAlreadyExists = errors.New("model already exists")

// ErrModelNotFound is returned by Manager.Get for an unknown id.
var ErrModelNotFound = errors.New("model not found")

// ErrReservedRole is returned when a request's components list carries the
// reserved diffusion_model role (spec §4.2 "Validation of request").
var ErrReservedRole = fmt.Errorf("role %q is reserved for the primary file", RoleDiffusionModel)

func notFoundErr(id string) error {
	return corerr.Wrap(corerr.ModelNotFound, ErrModelNotFound, fmt.Sprintf("model %q not found", id))
}
