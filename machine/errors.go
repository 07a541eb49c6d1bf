package machine

import (
	"errors"
	"strings"
)

var (
	ErrCycleDetected       = errors.New("cyclic net dependency")
	ErrUnknownTypeTag      = errors.New("unknown type tag")
	ErrUnresolvedReference = errors.New("unresolved net reference")
	ErrConstructionFailed  = errors.New("construction failed")
	ErrListenerBindFailed  = errors.New("listener bind failed")
	ErrFileUnavailable     = errors.New("tracked file unavailable")
)

// CycleError reports the names left unbuildable by a dependency cycle.
type CycleError struct {
	Names []string
}

func (e CycleError) Error() string {
	return "cyclic net dependency: " + strings.Join(e.Names, ", ")
}

func (e CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}
