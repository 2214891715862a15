package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"trimly/internal/domain"
)

// WorkingHoursRepository supplies the recurring weekly schedule for one
// provider.
type WorkingHoursRepository interface {
	// GetWeek returns the rules present for a provider, ordered by weekday.
	// Weekdays without a rule are absent, meaning closed.
	GetWeek(ctx context.Context, providerID string) ([]domain.WorkingHoursRule, error)

	// GetRule returns the rule for one weekday, or nil when none exists.
	GetRule(ctx context.Context, providerID string, weekday time.Weekday) (*domain.WorkingHoursRule, error)

	// SaveWeek replaces a provider's weekly schedule as one atomic multi-row
	// upsert. Either every rule is applied or none is.
	SaveWeek(ctx context.Context, providerID string, rules []domain.WorkingHoursRule) ([]domain.WorkingHoursRule, error)
}

// BlockedTimeRepository supplies ad hoc exclusion intervals.
type BlockedTimeRepository interface {
	ListForDay(ctx context.Context, providerID string, date time.Time) ([]domain.BlockedInterval, error)
	Get(ctx context.Context, providerID string, intervalID uuid.UUID) (domain.BlockedInterval, error)
}

// AppointmentRepository supplies already-booked appointments.
type AppointmentRepository interface {
	ListForDay(ctx context.Context, providerID string, date time.Time) ([]domain.Appointment, error)
	Get(ctx context.Context, providerID string, appointmentID uuid.UUID) (domain.Appointment, error)
}

// ServiceRepository supplies the provider's booking duration catalog.
type ServiceRepository interface {
	Get(ctx context.Context, providerID string, serviceID uuid.UUID) (domain.Service, error)
	List(ctx context.Context, providerID string) ([]domain.Service, error)
}
