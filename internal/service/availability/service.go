package availability

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"trimly/internal/cache"
	"trimly/internal/domain"
	"trimly/internal/settings"
	"trimly/internal/store"
)

// Service is the availability and conflict engine. Reads are cache-first
// and never mutate persisted state; every write goes through the serialized
// calendar transaction in reserve.go.
type Service struct {
	hours    store.WorkingHoursRepository
	blocked  store.BlockedTimeRepository
	appts    store.AppointmentRepository
	services store.ServiceRepository
	calendar store.CalendarStore
	cache    cache.AvailabilityCache
	clock    *domain.Clock
	settings *settings.Service
	log      *slog.Logger

	// group collapses concurrent recomputations of one cache key; callers
	// arriving during a recompute share the single fresh miss.
	group singleflight.Group

	busyRetryBackoff time.Duration
}

type Deps struct {
	WorkingHours store.WorkingHoursRepository
	BlockedTimes store.BlockedTimeRepository
	Appointments store.AppointmentRepository
	Services     store.ServiceRepository
	Calendar     store.CalendarStore
	Cache        cache.AvailabilityCache
	Clock        *domain.Clock
	Settings     *settings.Service
	Log          *slog.Logger

	// BusyRetryBackoff is the pause before the single automatic retry of a
	// reservation that found its calendar scope busy.
	BusyRetryBackoff time.Duration
}

func New(deps Deps) *Service {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	backoff := deps.BusyRetryBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &Service{
		hours:            deps.WorkingHours,
		blocked:          deps.BlockedTimes,
		appts:            deps.Appointments,
		services:         deps.Services,
		calendar:         deps.Calendar,
		cache:            deps.Cache,
		clock:            deps.Clock,
		settings:         deps.Settings,
		log:              log.With(slog.String("component", "availability")),
		busyRetryBackoff: backoff,
	}
}

// ComputeAvailableSlots returns the bookable start times for one provider,
// date and service duration, ascending. A closed day yields an empty
// sequence, not an error. granularityMinutes may be zero to use the
// configured default.
func (s *Service) ComputeAvailableSlots(ctx context.Context, providerID string, date time.Time, durationMinutes, granularityMinutes int) ([]domain.Slot, error) {
	if providerID == "" {
		return nil, validationError("provider_id is required")
	}
	if date.IsZero() {
		return nil, validationError("date is required")
	}
	if durationMinutes <= 0 || durationMinutes > domain.MinutesPerDay {
		return nil, validationError("duration_minutes must be positive and within one day")
	}
	if granularityMinutes == 0 {
		granularityMinutes = s.settings.Current().DefaultGranularityMinutes
	}
	if granularityMinutes < 0 {
		return nil, validationError("granularity_minutes must be positive")
	}

	key := cache.Key{
		ProviderID:         providerID,
		Date:               date,
		DurationMinutes:    durationMinutes,
		GranularityMinutes: granularityMinutes,
	}

	slots, token, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		// The cache is an accelerator, never the source of truth: compute
		// from the repositories and skip the store-back.
		s.log.Warn("availability cache unavailable", slog.Any("err", err))
		return s.compute(ctx, providerID, date, durationMinutes, granularityMinutes)
	}
	if ok {
		return slots, nil
	}

	// The flight key carries the epochs observed at miss time. A caller
	// arriving after an invalidation holds a newer token and starts its own
	// flight instead of joining one whose repository reads may predate the
	// invalidating write.
	v, err, _ := s.group.Do(key.String()+"@"+token.String(), func() (any, error) {
		out, err := s.compute(ctx, providerID, date, durationMinutes, granularityMinutes)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, key, token, out); err != nil {
			s.log.Warn("availability cache store failed", slog.Any("err", err))
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	// The flight value is shared by every caller that joined it; each gets
	// its own slice so none can mutate another's result.
	shared := v.([]domain.Slot)
	out := make([]domain.Slot, len(shared))
	copy(out, shared)
	return out, nil
}

func (s *Service) compute(ctx context.Context, providerID string, date time.Time, durationMinutes, granularityMinutes int) ([]domain.Slot, error) {
	rule, err := s.hours.GetRule(ctx, providerID, date.Weekday())
	if err != nil {
		return nil, err
	}
	if rule == nil || !rule.IsOpen {
		return []domain.Slot{}, nil
	}

	blocked, err := s.blocked.ListForDay(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	appts, err := s.appts.ListForDay(ctx, providerID, date)
	if err != nil {
		return nil, err
	}

	candidates := domain.GenerateSlots(rule, date, durationMinutes, granularityMinutes)
	return domain.ResolveConflicts(candidates, domain.ExclusionsFor(blocked, appts)), nil
}

// Invalidate is the explicit cache-bust hook for mutation paths outside the
// engine. A nil date evicts the provider's entire availability cache.
func (s *Service) Invalidate(ctx context.Context, providerID string, date *time.Time) error {
	if providerID == "" {
		return validationError("provider_id is required")
	}
	if date != nil {
		return s.cache.InvalidateDate(ctx, providerID, *date)
	}
	return s.cache.InvalidateProvider(ctx, providerID)
}

// WorkingHoursWeek returns the provider's recurring weekly schedule.
func (s *Service) WorkingHoursWeek(ctx context.Context, providerID string) ([]domain.WorkingHoursRule, error) {
	if providerID == "" {
		return nil, validationError("provider_id is required")
	}
	return s.hours.GetWeek(ctx, providerID)
}

// SaveWorkingHours replaces the provider's weekly schedule atomically and
// evicts every cached availability entry for the provider, since a weekday
// rule change affects all future dates sharing that weekday.
func (s *Service) SaveWorkingHours(ctx context.Context, providerID string, rules []domain.WorkingHoursRule) ([]domain.WorkingHoursRule, error) {
	if providerID == "" {
		return nil, validationError("provider_id is required")
	}
	if len(rules) == 0 {
		return nil, validationError("at least one rule is required")
	}

	seen := make(map[time.Weekday]struct{}, len(rules))
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return nil, validationError(err.Error())
		}
		if _, dup := seen[rules[i].Weekday]; dup {
			return nil, validationError("duplicate weekday in schedule")
		}
		seen[rules[i].Weekday] = struct{}{}
	}

	saved, err := s.hours.SaveWeek(ctx, providerID, rules)
	if err != nil {
		return nil, err
	}

	if err := s.cache.InvalidateProvider(ctx, providerID); err != nil {
		s.log.Warn("cache invalidation after working-hours change failed",
			slog.Any("err", err), slog.String("provider_id", providerID))
	}

	s.log.Info("working hours saved",
		slog.String("provider_id", providerID), slog.Int("rules", len(saved)))
	return saved, nil
}

// ListServices returns the provider's booking duration catalog.
func (s *Service) ListServices(ctx context.Context, providerID string) ([]domain.Service, error) {
	if providerID == "" {
		return nil, validationError("provider_id is required")
	}
	return s.services.List(ctx, providerID)
}

func (s *Service) invalidateDay(ctx context.Context, providerID string, date time.Time) {
	if err := s.cache.InvalidateDate(ctx, providerID, date); err != nil {
		s.log.Warn("cache invalidation failed",
			slog.Any("err", err),
			slog.String("provider_id", providerID),
			slog.String("date", date.Format(domain.DateLayout)))
	}
}
