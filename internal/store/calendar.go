package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"trimly/internal/domain"
)

// CalendarTx is the view of one provider's calendar inside a serialized
// (provider, date) transaction. Everything read through it reflects current
// persisted state, never a cached one.
type CalendarTx interface {
	WorkingHoursRule(ctx context.Context, providerID string, weekday time.Weekday) (*domain.WorkingHoursRule, error)
	ListAppointments(ctx context.Context, providerID string, date time.Time) ([]domain.Appointment, error)
	ListBlockedIntervals(ctx context.Context, providerID string, date time.Time) ([]domain.BlockedInterval, error)

	CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	DeleteAppointment(ctx context.Context, providerID string, appointmentID uuid.UUID) error
	CreateBlockedInterval(ctx context.Context, iv domain.BlockedInterval) (domain.BlockedInterval, error)
	DeleteBlockedInterval(ctx context.Context, providerID string, intervalID uuid.UUID) error
}

// CalendarStore runs fn inside one transaction holding the mutual-exclusion
// scope for (providerID, date). Two concurrent transactions for the same
// provider and date serialize; different providers or dates do not block
// each other. A scope that cannot be acquired within the store's bounded
// wait fails with ErrBusy.
type CalendarStore interface {
	InCalendarTransaction(ctx context.Context, providerID string, date time.Time, fn func(ctx context.Context, tx CalendarTx) error) error
}
