package availability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trimly/internal/domain"
	"trimly/internal/store"
)

type ReserveInput struct {
	ProviderID      string
	CustomerID      string
	Date            time.Time
	StartMinute     domain.MinuteOfDay
	DurationMinutes int

	// ServiceID optionally resolves DurationMinutes from the provider's
	// catalog when DurationMinutes is zero.
	ServiceID uuid.UUID

	IdempotencyKey string
}

// Reserve is the booking conflict guard: the sole path that commits a new
// appointment. It re-runs the overlap test against current persisted state
// inside the serialized (provider, date) transaction, so two concurrent
// reservations for overlapping windows cannot both succeed. A scope that
// stays busy past its bounded wait is retried once, then surfaces
// store.ErrBusy.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (domain.Appointment, error) {
	if in.ProviderID == "" {
		return domain.Appointment{}, validationError("provider_id is required")
	}
	if in.CustomerID == "" {
		return domain.Appointment{}, validationError("customer_id is required")
	}
	if in.Date.IsZero() {
		return domain.Appointment{}, validationError("date is required")
	}

	duration := in.DurationMinutes
	if duration == 0 && in.ServiceID != uuid.Nil {
		svc, err := s.services.Get(ctx, in.ProviderID, in.ServiceID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Appointment{}, validationError("unknown service")
			}
			return domain.Appointment{}, err
		}
		duration = svc.DurationMinutes
	}
	if duration <= 0 {
		return domain.Appointment{}, validationError("duration_minutes must be positive")
	}

	start := in.StartMinute
	end := start + domain.MinuteOfDay(duration)
	if !start.Valid() || end > domain.MinutesPerDay {
		return domain.Appointment{}, validationError("slot must lie within the day")
	}

	today, _ := s.clock.Now()
	if in.Date.Before(today) {
		return domain.Appointment{}, validationError("date is in the past")
	}
	if maxAhead := s.settings.Current().MaxAdvanceDays; in.Date.After(today.AddDate(0, 0, maxAhead)) {
		return domain.Appointment{}, validationError("date is too far ahead")
	}

	appt := domain.Appointment{
		ProviderID:      in.ProviderID,
		CustomerID:      in.CustomerID,
		Date:            in.Date,
		StartMinute:     start,
		DurationMinutes: duration,
	}
	if key := in.IdempotencyKey; key != "" {
		if len(key) > 256 {
			return domain.Appointment{}, validationError("idempotency_key too long")
		}
		appt.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("trimly:reserve:"+in.ProviderID+":"+key))
	}

	out, err := s.commitAppointment(ctx, appt)
	if errors.Is(err, store.ErrBusy) {
		if waitErr := s.waitBeforeRetry(ctx); waitErr != nil {
			return domain.Appointment{}, waitErr
		}
		out, err = s.commitAppointment(ctx, appt)
	}
	if err != nil {
		return domain.Appointment{}, err
	}

	s.invalidateDay(ctx, out.ProviderID, out.Date)
	s.log.Info("appointment reserved",
		slog.String("appointment_id", out.ID.String()),
		slog.String("provider_id", out.ProviderID),
		slog.String("date", out.Date.Format(domain.DateLayout)),
		slog.String("start", out.StartMinute.String()),
		slog.Int("duration_minutes", out.DurationMinutes))
	return out, nil
}

func (s *Service) commitAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	var out domain.Appointment
	err := s.calendar.InCalendarTransaction(ctx, appt.ProviderID, appt.Date, func(ctx context.Context, tx store.CalendarTx) error {
		rule, err := tx.WorkingHoursRule(ctx, appt.ProviderID, appt.Date.Weekday())
		if err != nil {
			return err
		}
		if rule == nil || !rule.IsOpen {
			return &ClosedDayError{ProviderID: appt.ProviderID, Date: appt.Date}
		}
		if appt.StartMinute < rule.OpenMinute || appt.EndMinute() > rule.CloseMinute {
			return validationError("slot is outside working hours")
		}

		blocked, err := tx.ListBlockedIntervals(ctx, appt.ProviderID, appt.Date)
		if err != nil {
			return err
		}
		appts, err := tx.ListAppointments(ctx, appt.ProviderID, appt.Date)
		if err != nil {
			return err
		}

		if ex, hit := domain.FirstConflict(appt.StartMinute, appt.EndMinute(), domain.ExclusionsFor(blocked, appts)); hit {
			if ex.Kind == domain.ConflictKindAppointment && ex.ID == appt.ID {
				// Idempotent replay of an already-committed reservation.
				existing, err := findAppointment(appts, appt.ID)
				if err != nil {
					return err
				}
				out = existing
				return nil
			}
			return &ConflictError{
				Kind:        ex.Kind,
				IntervalID:  ex.ID,
				StartMinute: ex.StartMinute,
				EndMinute:   ex.EndMinute,
			}
		}

		created, err := tx.CreateAppointment(ctx, appt)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

func findAppointment(appts []domain.Appointment, id uuid.UUID) (domain.Appointment, error) {
	for _, a := range appts {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.Appointment{}, store.ErrNotFound
}

func (s *Service) waitBeforeRetry(ctx context.Context) error {
	timer := time.NewTimer(s.busyRetryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Cancel removes a committed appointment through the same serialized
// calendar scope that created it.
func (s *Service) Cancel(ctx context.Context, providerID string, appointmentID uuid.UUID) error {
	if providerID == "" {
		return validationError("provider_id is required")
	}
	if appointmentID == uuid.Nil {
		return validationError("appointment_id is required")
	}

	appt, err := s.appts.Get(ctx, providerID, appointmentID)
	if err != nil {
		return err
	}

	err = s.calendar.InCalendarTransaction(ctx, providerID, appt.Date, func(ctx context.Context, tx store.CalendarTx) error {
		return tx.DeleteAppointment(ctx, providerID, appointmentID)
	})
	if err != nil {
		return err
	}

	s.invalidateDay(ctx, providerID, appt.Date)
	s.log.Info("appointment cancelled",
		slog.String("appointment_id", appointmentID.String()),
		slog.String("provider_id", providerID))
	return nil
}

type BlockInput struct {
	ProviderID  string
	Date        time.Time
	StartMinute domain.MinuteOfDay
	EndMinute   domain.MinuteOfDay
	Reason      string
}

// Block commits a one-off exclusion interval. Blocked time may not overlap
// committed appointments; it may overlap other blocked time, since stacking
// exclusions cannot double-book anyone.
func (s *Service) Block(ctx context.Context, in BlockInput) (domain.BlockedInterval, error) {
	if in.ProviderID == "" {
		return domain.BlockedInterval{}, validationError("provider_id is required")
	}
	if in.Date.IsZero() {
		return domain.BlockedInterval{}, validationError("date is required")
	}

	iv := domain.BlockedInterval{
		ProviderID:  in.ProviderID,
		Date:        in.Date,
		StartMinute: in.StartMinute,
		EndMinute:   in.EndMinute,
		Reason:      in.Reason,
	}
	if err := iv.Validate(); err != nil {
		return domain.BlockedInterval{}, validationError(err.Error())
	}

	var out domain.BlockedInterval
	err := s.calendar.InCalendarTransaction(ctx, in.ProviderID, in.Date, func(ctx context.Context, tx store.CalendarTx) error {
		appts, err := tx.ListAppointments(ctx, in.ProviderID, in.Date)
		if err != nil {
			return err
		}
		if ex, hit := domain.FirstConflict(in.StartMinute, in.EndMinute, domain.ExclusionsFor(nil, appts)); hit {
			return &ConflictError{
				Kind:        ex.Kind,
				IntervalID:  ex.ID,
				StartMinute: ex.StartMinute,
				EndMinute:   ex.EndMinute,
			}
		}
		created, err := tx.CreateBlockedInterval(ctx, iv)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return domain.BlockedInterval{}, err
	}

	s.invalidateDay(ctx, in.ProviderID, in.Date)
	s.log.Info("interval blocked",
		slog.String("interval_id", out.ID.String()),
		slog.String("provider_id", in.ProviderID),
		slog.String("date", in.Date.Format(domain.DateLayout)))
	return out, nil
}

// Unblock removes a blocked interval, freeing its window for booking.
func (s *Service) Unblock(ctx context.Context, providerID string, intervalID uuid.UUID) error {
	if providerID == "" {
		return validationError("provider_id is required")
	}
	if intervalID == uuid.Nil {
		return validationError("interval_id is required")
	}

	iv, err := s.blocked.Get(ctx, providerID, intervalID)
	if err != nil {
		return err
	}

	err = s.calendar.InCalendarTransaction(ctx, providerID, iv.Date, func(ctx context.Context, tx store.CalendarTx) error {
		return tx.DeleteBlockedInterval(ctx, providerID, intervalID)
	})
	if err != nil {
		return err
	}

	s.invalidateDay(ctx, providerID, iv.Date)
	s.log.Info("interval unblocked",
		slog.String("interval_id", intervalID.String()),
		slog.String("provider_id", providerID))
	return nil
}
