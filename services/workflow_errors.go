package services

import (
	"errors"
	"fmt"

	"lab-management-api/models"
)

var (
	// ErrLogNotFound is returned when the referenced log id does not exist.
	ErrLogNotFound = errors.New("research log not found")

	// ErrForbidden is returned when the caller lacks the role or ownership
	// required for the requested transition. Never downgraded to a no-op.
	ErrForbidden = errors.New("caller is not allowed to perform this action")

	// ErrNoSupervisor is returned when a student submits without an assigned
	// supervisor, so the submission cannot be routed to a reviewer.
	ErrNoSupervisor = errors.New("student has no assigned supervisor")
)

// InvalidTransitionError reports a transition request whose target state is
// not reachable from the log's current status. The message carries the
// current status so a rejected request can be debugged from the response.
type InvalidTransitionError struct {
	Current   models.LogStatus
	Requested models.LogStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move research log from %s to %s", e.Current, e.Requested)
}
