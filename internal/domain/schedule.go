package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WorkingHoursRule is the recurring weekly open/closed window for one
// weekday. At most one rule exists per (provider, weekday); a weekday with
// no rule is closed.
type WorkingHoursRule struct {
	bun.BaseModel `bun:"table:working_hours_rules"`

	ID          uuid.UUID    `bun:"id,pk,type:uuid"`
	ProviderID  string       `bun:"provider_id,notnull"`
	Weekday     time.Weekday `bun:"weekday,notnull"`
	IsOpen      bool         `bun:"is_open,notnull"`
	OpenMinute  MinuteOfDay  `bun:"open_minute,notnull"`
	CloseMinute MinuteOfDay  `bun:"close_minute,notnull"`
	CreatedAt   time.Time    `bun:"created_at,notnull"`
	UpdatedAt   time.Time    `bun:"updated_at,notnull"`
}

func (r *WorkingHoursRule) Validate() error {
	if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
		return errors.New("weekday must be between 0 and 6")
	}
	if !r.IsOpen {
		return nil
	}
	if !r.OpenMinute.Valid() || !r.CloseMinute.Valid() {
		return errors.New("open_time and close_time must be within the day")
	}
	if r.OpenMinute >= r.CloseMinute {
		return errors.New("open_time must be before close_time")
	}
	return nil
}

func (r *WorkingHoursRule) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if r.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			r.ID = id
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		r.UpdatedAt = now
	}
	return nil
}

// BlockedInterval is a one-off exclusion window on a specific calendar date,
// such as a lunch break or a walk-in.
type BlockedInterval struct {
	bun.BaseModel `bun:"table:blocked_intervals"`

	ID          uuid.UUID   `bun:"id,pk,type:uuid"`
	ProviderID  string      `bun:"provider_id,notnull"`
	Date        time.Time   `bun:"date,notnull"`
	StartMinute MinuteOfDay `bun:"start_minute,notnull"`
	EndMinute   MinuteOfDay `bun:"end_minute,notnull"`
	Reason      string      `bun:"reason"`
	CreatedAt   time.Time   `bun:"created_at,notnull"`
	UpdatedAt   time.Time   `bun:"updated_at,notnull"`
}

func (b *BlockedInterval) Validate() error {
	if !b.StartMinute.Valid() || !b.EndMinute.Valid() {
		return errors.New("start_time and end_time must be within the day")
	}
	if b.StartMinute >= b.EndMinute {
		return errors.New("start_time must be before end_time")
	}
	return nil
}

func (b *BlockedInterval) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}
