package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"trimly/internal/domain"
	"trimly/internal/service/availability"
	"trimly/internal/settings"
	"trimly/internal/store"
)

type fakeAvailabilityService struct {
	computeFn      func(ctx context.Context, providerID string, date time.Time, durationMinutes, granularityMinutes int) ([]domain.Slot, error)
	reserveFn      func(ctx context.Context, in availability.ReserveInput) (domain.Appointment, error)
	cancelFn       func(ctx context.Context, providerID string, appointmentID uuid.UUID) error
	blockFn        func(ctx context.Context, in availability.BlockInput) (domain.BlockedInterval, error)
	unblockFn      func(ctx context.Context, providerID string, intervalID uuid.UUID) error
	weekFn         func(ctx context.Context, providerID string) ([]domain.WorkingHoursRule, error)
	saveWeekFn     func(ctx context.Context, providerID string, rules []domain.WorkingHoursRule) ([]domain.WorkingHoursRule, error)
	listServicesFn func(ctx context.Context, providerID string) ([]domain.Service, error)
	invalidateFn   func(ctx context.Context, providerID string, date *time.Time) error
}

func (f *fakeAvailabilityService) ComputeAvailableSlots(ctx context.Context, providerID string, date time.Time, durationMinutes, granularityMinutes int) ([]domain.Slot, error) {
	if f.computeFn == nil {
		panic("ComputeAvailableSlots not configured")
	}
	return f.computeFn(ctx, providerID, date, durationMinutes, granularityMinutes)
}

func (f *fakeAvailabilityService) Reserve(ctx context.Context, in availability.ReserveInput) (domain.Appointment, error) {
	if f.reserveFn == nil {
		panic("Reserve not configured")
	}
	return f.reserveFn(ctx, in)
}

func (f *fakeAvailabilityService) Cancel(ctx context.Context, providerID string, appointmentID uuid.UUID) error {
	if f.cancelFn == nil {
		panic("Cancel not configured")
	}
	return f.cancelFn(ctx, providerID, appointmentID)
}

func (f *fakeAvailabilityService) Block(ctx context.Context, in availability.BlockInput) (domain.BlockedInterval, error) {
	if f.blockFn == nil {
		panic("Block not configured")
	}
	return f.blockFn(ctx, in)
}

func (f *fakeAvailabilityService) Unblock(ctx context.Context, providerID string, intervalID uuid.UUID) error {
	if f.unblockFn == nil {
		panic("Unblock not configured")
	}
	return f.unblockFn(ctx, providerID, intervalID)
}

func (f *fakeAvailabilityService) WorkingHoursWeek(ctx context.Context, providerID string) ([]domain.WorkingHoursRule, error) {
	if f.weekFn == nil {
		panic("WorkingHoursWeek not configured")
	}
	return f.weekFn(ctx, providerID)
}

func (f *fakeAvailabilityService) SaveWorkingHours(ctx context.Context, providerID string, rules []domain.WorkingHoursRule) ([]domain.WorkingHoursRule, error) {
	if f.saveWeekFn == nil {
		panic("SaveWorkingHours not configured")
	}
	return f.saveWeekFn(ctx, providerID, rules)
}

func (f *fakeAvailabilityService) ListServices(ctx context.Context, providerID string) ([]domain.Service, error) {
	if f.listServicesFn == nil {
		panic("ListServices not configured")
	}
	return f.listServicesFn(ctx, providerID)
}

func (f *fakeAvailabilityService) Invalidate(ctx context.Context, providerID string, date *time.Time) error {
	if f.invalidateFn == nil {
		panic("Invalidate not configured")
	}
	return f.invalidateFn(ctx, providerID, date)
}

func newTestRouter(t *testing.T, svc *fakeAvailabilityService) http.Handler {
	t.Helper()
	cfg, err := settings.New(settings.Snapshot{DefaultGranularityMinutes: 30, MaxAdvanceDays: 90})
	if err != nil {
		t.Fatalf("settings.New error: %v", err)
	}
	return NewServer(svc, cfg, nil).Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAvailability_ReturnsSlots(t *testing.T) {
	date := domain.DateOf(2026, time.January, 5)
	svc := &fakeAvailabilityService{
		computeFn: func(ctx context.Context, providerID string, d time.Time, dur, gran int) ([]domain.Slot, error) {
			if providerID != "p1" || !d.Equal(date) || dur != 60 || gran != 30 {
				t.Fatalf("compute args = (%s, %v, %d, %d)", providerID, d, dur, gran)
			}
			return []domain.Slot{
				{ProviderID: "p1", Date: date, StartMinute: 540, DurationMinutes: 60},
				{ProviderID: "p1", Date: date, StartMinute: 570, DurationMinutes: 60},
			}, nil
		},
	}
	rec := doJSON(t, newTestRouter(t, svc), http.MethodGet,
		"/providers/p1/availability?date=2026-01-05&duration_minutes=60&granularity_minutes=30", nil, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp struct {
		Slots []slotResponse `json:"slots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Slots) != 2 || resp.Slots[0].Start != "09:00" || resp.Slots[0].End != "10:00" {
		t.Fatalf("slots = %+v", resp.Slots)
	}
}

func TestAvailability_RejectsBadQuery(t *testing.T) {
	h := newTestRouter(t, &fakeAvailabilityService{})

	rec := doJSON(t, h, http.MethodGet, "/providers/p1/availability?date=tomorrow&duration_minutes=60", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date: status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/providers/p1/availability?date=2026-01-05", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing duration: status = %d", rec.Code)
	}
}

func TestReserve_CreatedWithIdempotencyHeader(t *testing.T) {
	apptID := uuid.MustParse("00000000-0000-0000-0000-000000000041")
	svc := &fakeAvailabilityService{
		reserveFn: func(ctx context.Context, in availability.ReserveInput) (domain.Appointment, error) {
			if in.IdempotencyKey != "req-1" {
				t.Fatalf("IdempotencyKey = %q, want %q", in.IdempotencyKey, "req-1")
			}
			if in.StartMinute != 600 || in.DurationMinutes != 60 {
				t.Fatalf("input = %+v", in)
			}
			return domain.Appointment{
				ID:              apptID,
				ProviderID:      in.ProviderID,
				CustomerID:      in.CustomerID,
				Date:            in.Date,
				StartMinute:     in.StartMinute,
				DurationMinutes: in.DurationMinutes,
			}, nil
		},
	}
	rec := doJSON(t, newTestRouter(t, svc), http.MethodPost, "/providers/p1/appointments",
		reserveRequest{CustomerID: "c1", Date: "2026-01-05", Start: "10:00", DurationMinutes: 60},
		map[string]string{"Idempotency-Key": " req-1 "})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp appointmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != apptID.String() || resp.Start != "10:00" || resp.End != "11:00" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestReserve_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", &availability.ValidationError{}, http.StatusBadRequest},
		{"closed_day", &availability.ClosedDayError{ProviderID: "p1", Date: domain.DateOf(2026, time.January, 5)}, http.StatusUnprocessableEntity},
		{"conflict", &availability.ConflictError{Kind: domain.ConflictKindAppointment, StartMinute: 600, EndMinute: 660}, http.StatusConflict},
		{"idempotency", store.ErrIdempotencyConflict, http.StatusConflict},
		{"busy", store.ErrBusy, http.StatusServiceUnavailable},
		{"unavailable", store.ErrUnavailable, http.StatusServiceUnavailable},
		{"not_found", store.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeAvailabilityService{
				reserveFn: func(ctx context.Context, in availability.ReserveInput) (domain.Appointment, error) {
					return domain.Appointment{}, tc.err
				},
			}
			rec := doJSON(t, newTestRouter(t, svc), http.MethodPost, "/providers/p1/appointments",
				reserveRequest{CustomerID: "c1", Date: "2026-01-05", Start: "10:00", DurationMinutes: 60}, nil)
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.code, rec.Body)
			}
		})
	}
}

func TestReserve_BusySetsRetryAfter(t *testing.T) {
	svc := &fakeAvailabilityService{
		reserveFn: func(ctx context.Context, in availability.ReserveInput) (domain.Appointment, error) {
			return domain.Appointment{}, store.ErrBusy
		},
	}
	rec := doJSON(t, newTestRouter(t, svc), http.MethodPost, "/providers/p1/appointments",
		reserveRequest{CustomerID: "c1", Date: "2026-01-05", Start: "10:00", DurationMinutes: 60}, nil)
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header not set")
	}
}

func TestReserve_ConflictPayloadCarriesKind(t *testing.T) {
	svc := &fakeAvailabilityService{
		reserveFn: func(ctx context.Context, in availability.ReserveInput) (domain.Appointment, error) {
			return domain.Appointment{}, &availability.ConflictError{
				Kind:        domain.ConflictKindBlockedTime,
				StartMinute: 780,
				EndMinute:   840,
			}
		},
	}
	rec := doJSON(t, newTestRouter(t, svc), http.MethodPost, "/providers/p1/appointments",
		reserveRequest{CustomerID: "c1", Date: "2026-01-05", Start: "13:00", DurationMinutes: 60}, nil)

	var resp struct {
		Conflict struct {
			Kind  string `json:"kind"`
			Start string `json:"start"`
		} `json:"conflict"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Conflict.Kind != string(domain.ConflictKindBlockedTime) || resp.Conflict.Start != "13:00" {
		t.Fatalf("conflict payload = %+v", resp.Conflict)
	}
}

func TestCancel_NoContent(t *testing.T) {
	apptID := uuid.MustParse("00000000-0000-0000-0000-000000000042")
	svc := &fakeAvailabilityService{
		cancelFn: func(ctx context.Context, providerID string, appointmentID uuid.UUID) error {
			if providerID != "p1" || appointmentID != apptID {
				t.Fatalf("cancel args = (%s, %s)", providerID, appointmentID)
			}
			return nil
		},
	}
	rec := doJSON(t, newTestRouter(t, svc), http.MethodDelete,
		"/providers/p1/appointments/"+apptID.String(), nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCancel_RejectsBadID(t *testing.T) {
	rec := doJSON(t, newTestRouter(t, &fakeAvailabilityService{}), http.MethodDelete,
		"/providers/p1/appointments/not-a-uuid", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPutWorkingHours_ParsesClockTimes(t *testing.T) {
	svc := &fakeAvailabilityService{
		saveWeekFn: func(ctx context.Context, providerID string, rules []domain.WorkingHoursRule) ([]domain.WorkingHoursRule, error) {
			if len(rules) != 2 {
				t.Fatalf("rules = %d, want 2", len(rules))
			}
			if rules[0].OpenMinute != 540 || rules[0].CloseMinute != 720 {
				t.Fatalf("rule = %+v", rules[0])
			}
			return rules, nil
		},
	}
	body := []workingHoursRuleBody{
		{Weekday: 1, IsOpen: true, Open: "09:00", Close: "12:00"},
		{Weekday: 2, IsOpen: false},
	}
	rec := doJSON(t, newTestRouter(t, svc), http.MethodPut, "/providers/p1/working-hours", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestInvalidate_OptionalDate(t *testing.T) {
	var gotDate *time.Time
	svc := &fakeAvailabilityService{
		invalidateFn: func(ctx context.Context, providerID string, date *time.Time) error {
			gotDate = date
			return nil
		},
	}
	h := newTestRouter(t, svc)

	rec := doJSON(t, h, http.MethodPost, "/providers/p1/cache/invalidations",
		invalidateRequest{Date: "2026-01-05"}, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotDate == nil || !gotDate.Equal(domain.DateOf(2026, time.January, 5)) {
		t.Fatalf("date = %v", gotDate)
	}

	rec = doJSON(t, h, http.MethodPost, "/providers/p1/cache/invalidations", nil, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotDate != nil {
		t.Fatalf("date = %v, want nil for provider-wide eviction", gotDate)
	}
}

func TestSettings_UpdateAndRead(t *testing.T) {
	h := newTestRouter(t, &fakeAvailabilityService{})

	gran := 15
	rec := doJSON(t, h, http.MethodPut, "/admin/settings", settingsBody{DefaultGranularityMinutes: &gran}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, http.MethodGet, "/admin/settings", nil, nil)
	var resp struct {
		DefaultGranularityMinutes int `json:"default_granularity_minutes"`
		MaxAdvanceDays            int `json:"max_advance_days"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.DefaultGranularityMinutes != 15 || resp.MaxAdvanceDays != 90 {
		t.Fatalf("settings = %+v", resp)
	}

	bad := -5
	rec = doJSON(t, h, http.MethodPut, "/admin/settings", settingsBody{DefaultGranularityMinutes: &bad}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid settings", rec.Code)
	}
}
