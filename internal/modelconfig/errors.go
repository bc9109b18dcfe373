package modelconfig

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is the only failure kind of a descriptor. It marks
// a build-time defect; callers abort initialization rather than retry.
var ErrInvalidConfiguration = errors.New("invalid model configuration")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}
