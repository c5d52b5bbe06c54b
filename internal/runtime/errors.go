package runtime

import (
	"errors"
	"fmt"
)

var (
	ErrRuntime        = errors.New("runtime error")
	ErrPull           = errors.New("image pull failed")
	ErrEmptyIndex     = errors.New("empty image index")
	ErrEmptyArchive   = errors.New("archive contains no image")
	ErrMultipleImages = errors.New("archive contains more than one image")
	ErrSessionClosed  = errors.New("build session closed")
	ErrImageNotFound  = errors.New("image not found")
)

// Wraps err under the given sentinel so that both match [errors.Is].
func wrap(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}
