package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"trimly/internal/domain"
	"trimly/internal/store"
)

// ScheduleRepo implements the scheduling repositories and the serialized
// calendar transaction on Postgres. The (provider, date) serialization scope
// is a pg_advisory_xact_lock; lock_timeout bounds the wait so a contended
// reservation fails with store.ErrBusy instead of queueing indefinitely.
type ScheduleRepo struct {
	db          *bun.DB
	lockTimeout time.Duration
}

func NewScheduleRepo(db *bun.DB, lockTimeout time.Duration) *ScheduleRepo {
	return &ScheduleRepo{db: db, lockTimeout: lockTimeout}
}

type calendarTx struct {
	tx bun.Tx
}

func (r *ScheduleRepo) GetWeek(ctx context.Context, providerID string) ([]domain.WorkingHoursRule, error) {
	var rows []domain.WorkingHoursRule
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		OrderExpr("weekday ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (r *ScheduleRepo) GetRule(ctx context.Context, providerID string, weekday time.Weekday) (*domain.WorkingHoursRule, error) {
	var rule domain.WorkingHoursRule
	err := r.db.NewSelect().
		Model(&rule).
		Where("provider_id = ?", providerID).
		Where("weekday = ?", int(weekday)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &rule, nil
}

// SaveWeek replaces the provider's weekly schedule with one multi-row
// upsert inside a single transaction, not a per-row fire-and-aggregate.
func (r *ScheduleRepo) SaveWeek(ctx context.Context, providerID string, rules []domain.WorkingHoursRule) ([]domain.WorkingHoursRule, error) {
	if len(rules) == 0 {
		return nil, nil
	}

	out := make([]domain.WorkingHoursRule, len(rules))
	copy(out, rules)
	for i := range out {
		out[i].ProviderID = providerID
		out[i].ID = uuid.Nil
		out[i].CreatedAt = time.Time{}
		out[i].UpdatedAt = time.Time{}
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(&out).
			On("CONFLICT (provider_id, weekday) DO UPDATE").
			Set("is_open = EXCLUDED.is_open").
			Set("open_minute = EXCLUDED.open_minute").
			Set("close_minute = EXCLUDED.close_minute").
			Set("updated_at = EXCLUDED.updated_at").
			Returning("id, created_at, updated_at").
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (r *ScheduleRepo) ListForDay(ctx context.Context, providerID string, date time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("date = ?", date).
		OrderExpr("start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (r *ScheduleRepo) Get(ctx context.Context, providerID string, appointmentID uuid.UUID) (domain.Appointment, error) {
	var appt domain.Appointment
	err := r.db.NewSelect().
		Model(&appt).
		Where("provider_id = ?", providerID).
		Where("id = ?", appointmentID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Appointment{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Appointment{}, classify(err)
	}
	return appt, nil
}

// BlockedTimes exposes the repo's blocked-interval view. Separate receivers
// keep the two ListForDay signatures apart while sharing one connection.
func (r *ScheduleRepo) BlockedTimes() *BlockedTimeRepo {
	return &BlockedTimeRepo{db: r.db}
}

func (r *ScheduleRepo) Services() *ServiceRepo {
	return &ServiceRepo{db: r.db}
}

type BlockedTimeRepo struct {
	db *bun.DB
}

func (r *BlockedTimeRepo) ListForDay(ctx context.Context, providerID string, date time.Time) ([]domain.BlockedInterval, error) {
	var rows []domain.BlockedInterval
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("date = ?", date).
		OrderExpr("start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (r *BlockedTimeRepo) Get(ctx context.Context, providerID string, intervalID uuid.UUID) (domain.BlockedInterval, error) {
	var iv domain.BlockedInterval
	err := r.db.NewSelect().
		Model(&iv).
		Where("provider_id = ?", providerID).
		Where("id = ?", intervalID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BlockedInterval{}, store.ErrNotFound
	}
	if err != nil {
		return domain.BlockedInterval{}, classify(err)
	}
	return iv, nil
}

type ServiceRepo struct {
	db *bun.DB
}

func (r *ServiceRepo) Get(ctx context.Context, providerID string, serviceID uuid.UUID) (domain.Service, error) {
	var svc domain.Service
	err := r.db.NewSelect().
		Model(&svc).
		Where("provider_id = ?", providerID).
		Where("id = ?", serviceID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Service{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Service{}, classify(err)
	}
	return svc, nil
}

func (r *ServiceRepo) List(ctx context.Context, providerID string) ([]domain.Service, error) {
	var rows []domain.Service
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		OrderExpr("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (r *ScheduleRepo) InCalendarTransaction(ctx context.Context, providerID string, date time.Time, fn func(ctx context.Context, tx store.CalendarTx) error) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockCalendarDay(ctx, tx, providerID, date, r.lockTimeout); err != nil {
			return err
		}
		return fn(ctx, calendarTx{tx: tx})
	})
	return classify(err)
}

func lockCalendarDay(ctx context.Context, tx bun.Tx, providerID string, date time.Time, wait time.Duration) error {
	if wait > 0 {
		// lock_timeout in milliseconds, scoped to this transaction.
		_, err := tx.NewRaw("SELECT set_config('lock_timeout', ?, true)",
			strconv.FormatInt(wait.Milliseconds(), 10)).Exec(ctx)
		if err != nil {
			return err
		}
	}
	key := providerID + ":" + date.Format(domain.DateLayout)
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", key).Exec(ctx)
	return err
}

func (c calendarTx) WorkingHoursRule(ctx context.Context, providerID string, weekday time.Weekday) (*domain.WorkingHoursRule, error) {
	var rule domain.WorkingHoursRule
	err := c.tx.NewSelect().
		Model(&rule).
		Where("provider_id = ?", providerID).
		Where("weekday = ?", int(weekday)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (c calendarTx) ListAppointments(ctx context.Context, providerID string, date time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := c.tx.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("date = ?", date).
		OrderExpr("start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c calendarTx) ListBlockedIntervals(ctx context.Context, providerID string, date time.Time) ([]domain.BlockedInterval, error) {
	var rows []domain.BlockedInterval
	err := c.tx.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("date = ?", date).
		OrderExpr("start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c calendarTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt

	_, err := c.tx.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23P01" && pgErr.ConstraintName == "appointments_no_overlap" {
				return domain.Appointment{}, store.ErrConflict
			}
			if pgErr.Code == "23505" {
				var existing domain.Appointment
				selectErr := c.tx.NewSelect().
					Model(&existing).
					Where("id = ?", m.ID).
					Limit(1).
					Scan(ctx)
				if selectErr != nil {
					return domain.Appointment{}, err
				}

				if existing.ProviderID != appt.ProviderID ||
					existing.CustomerID != appt.CustomerID ||
					!existing.Date.Equal(appt.Date) ||
					existing.StartMinute != appt.StartMinute ||
					existing.DurationMinutes != appt.DurationMinutes {
					return domain.Appointment{}, store.ErrIdempotencyConflict
				}

				return existing, nil
			}
		}
		return domain.Appointment{}, err
	}

	appt.ID = m.ID
	appt.CreatedAt = m.CreatedAt
	appt.UpdatedAt = m.UpdatedAt
	return appt, nil
}

func (c calendarTx) DeleteAppointment(ctx context.Context, providerID string, appointmentID uuid.UUID) error {
	res, err := c.tx.NewDelete().
		Model((*domain.Appointment)(nil)).
		Where("provider_id = ?", providerID).
		Where("id = ?", appointmentID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (c calendarTx) CreateBlockedInterval(ctx context.Context, iv domain.BlockedInterval) (domain.BlockedInterval, error) {
	m := iv
	if _, err := c.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.BlockedInterval{}, err
	}
	return m, nil
}

func (c calendarTx) DeleteBlockedInterval(ctx context.Context, providerID string, intervalID uuid.UUID) error {
	res, err := c.tx.NewDelete().
		Model((*domain.BlockedInterval)(nil)).
		Where("provider_id = ?", providerID).
		Where("id = ?", intervalID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// classify maps driver-level failures to the store's sentinel errors:
// advisory-lock waits that hit lock_timeout become ErrBusy, and transport
// failures reaching Postgres become ErrUnavailable so callers can tell "no
// rows" from "could not ask".
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "55P03" {
			return store.ErrBusy
		}
		if pgErr.Code == "23P01" && pgErr.ConstraintName == "appointments_no_overlap" {
			return store.ErrConflict
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	return err
}
