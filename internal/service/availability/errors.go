package availability

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"trimly/internal/domain"
)

// ValidationError marks input rejected before any repository is touched.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// ClosedDayError reports a reservation against a day with no open
// working-hours window. Reads treat a closed day as an empty result; only
// writes surface it as a failure.
type ClosedDayError struct {
	ProviderID string
	Date       time.Time
}

func (e *ClosedDayError) Error() string {
	return fmt.Sprintf("provider %s is closed on %s", e.ProviderID, e.Date.Format(domain.DateLayout))
}

// ConflictError reports the persisted interval that collided with a write
// at commit time, including its kind for caller-facing messaging.
type ConflictError struct {
	Kind        domain.ConflictKind
	IntervalID  uuid.UUID
	StartMinute domain.MinuteOfDay
	EndMinute   domain.MinuteOfDay
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot conflicts with %s %s-%s", e.Kind, e.StartMinute, e.EndMinute)
}
