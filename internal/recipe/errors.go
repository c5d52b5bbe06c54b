package recipe

import "errors"

var (
	ErrParse       = errors.New("recipe parse failed")
	ErrNoBase      = errors.New("recipe has no FROM instruction")
	ErrMultiStage  = errors.New("multi-stage recipes are not supported")
	ErrUnsupported = errors.New("unsupported instruction")
	ErrArguments   = errors.New("invalid instruction arguments")
)
