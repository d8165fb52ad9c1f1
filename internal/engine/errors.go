package engine

import (
	"errors"
	"fmt"

	"tracerline/internal/domain"
)

var (
	ErrInvalidStatusForTeam = errors.New("invalid status for team")
	ErrEmptyStream          = errors.New("stream has no sections")
	ErrAuditSink            = errors.New("audit sink failure")
)

// InvalidStatusError carries the rejected team/status pair.
type InvalidStatusError struct {
	Team   domain.Team
	Status domain.Status
}

func (e InvalidStatusError) Error() string {
	return fmt.Sprintf("status %q is not valid for team %s", e.Status, e.Team)
}

func (e InvalidStatusError) Is(target error) bool {
	return target == ErrInvalidStatusForTeam
}
