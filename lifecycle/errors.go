package lifecycle

import (
	"errors"
	"fmt"

	"sealtrack/models"
	"sealtrack/validation"
)

var (
	// ErrInvalidTransition is returned when the seal's status does not allow the operation.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrCapacity is returned when a seal already holds the maximum number of images.
	ErrCapacity = errors.New("seal image capacity reached")
)

// ValidationError reports rejected input; no write happens.
type ValidationError = validation.Error

func transitionError(op string, from models.SealStatus) error {
	return fmt.Errorf("%w: cannot %s a seal that is %s", ErrInvalidTransition, op, from)
}
