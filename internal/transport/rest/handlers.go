package rest

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"trimly/internal/domain"
	"trimly/internal/service/availability"
	"trimly/internal/settings"
)

type slotResponse struct {
	Date            string `json:"date"`
	Start           string `json:"start"`
	End             string `json:"end"`
	DurationMinutes int    `json:"duration_minutes"`
}

type appointmentResponse struct {
	ID              string `json:"id"`
	ProviderID      string `json:"provider_id"`
	CustomerID      string `json:"customer_id"`
	Date            string `json:"date"`
	Start           string `json:"start"`
	End             string `json:"end"`
	DurationMinutes int    `json:"duration_minutes"`
}

type workingHoursRuleBody struct {
	Weekday int    `json:"weekday"`
	IsOpen  bool   `json:"is_open"`
	Open    string `json:"open,omitempty"`
	Close   string `json:"close,omitempty"`
}

type blockedIntervalResponse struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Reason string `json:"reason,omitempty"`
}

type serviceResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
}

func toAppointmentResponse(a domain.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:              a.ID.String(),
		ProviderID:      a.ProviderID,
		CustomerID:      a.CustomerID,
		Date:            a.Date.Format(domain.DateLayout),
		Start:           a.StartMinute.String(),
		End:             a.EndMinute().String(),
		DurationMinutes: a.DurationMinutes,
	}
}

func toBlockedResponse(b domain.BlockedInterval) blockedIntervalResponse {
	return blockedIntervalResponse{
		ID:     b.ID.String(),
		Date:   b.Date.Format(domain.DateLayout),
		Start:  b.StartMinute.String(),
		End:    b.EndMinute.String(),
		Reason: b.Reason,
	}
}

func toRuleBody(r domain.WorkingHoursRule) workingHoursRuleBody {
	body := workingHoursRuleBody{Weekday: int(r.Weekday), IsOpen: r.IsOpen}
	if r.IsOpen {
		body.Open = r.OpenMinute.String()
		body.Close = r.CloseMinute.String()
	}
	return body
}

// GET /providers/:provider_id/availability?date=2026-01-05&duration_minutes=60&granularity_minutes=30
func (s *Server) handleAvailability(c *gin.Context) {
	log := s.log.With(slog.String("route", "availability"))
	providerID := c.Param("provider_id")

	date, err := domain.ParseDate(c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be formatted YYYY-MM-DD"})
		return
	}
	duration, err := strconv.Atoi(c.Query("duration_minutes"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration_minutes is required"})
		return
	}
	granularity := 0
	if raw := c.Query("granularity_minutes"); raw != "" {
		granularity, err = strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "granularity_minutes must be an integer"})
			return
		}
	}

	slots, err := s.svc.ComputeAvailableSlots(c.Request.Context(), providerID, date, duration, granularity)
	if err != nil {
		s.writeError(c, log, err)
		return
	}

	out := make([]slotResponse, 0, len(slots))
	for _, slot := range slots {
		out = append(out, slotResponse{
			Date:            slot.Date.Format(domain.DateLayout),
			Start:           slot.StartMinute.String(),
			End:             slot.EndMinute().String(),
			DurationMinutes: slot.DurationMinutes,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"provider_id": providerID,
		"date":        date.Format(domain.DateLayout),
		"slots":       out,
	})
}

type reserveRequest struct {
	CustomerID      string `json:"customer_id"`
	Date            string `json:"date"`
	Start           string `json:"start"`
	DurationMinutes int    `json:"duration_minutes"`
	ServiceID       string `json:"service_id"`
}

// POST /providers/:provider_id/appointments
func (s *Server) handleReserve(c *gin.Context) {
	log := s.log.With(slog.String("route", "reserve"))
	providerID := c.Param("provider_id")

	var req reserveRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be formatted YYYY-MM-DD"})
		return
	}
	start, err := domain.ParseMinuteOfDay(req.Start)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be formatted HH:MM"})
		return
	}
	var serviceID uuid.UUID
	if req.ServiceID != "" {
		serviceID, err = uuid.Parse(req.ServiceID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "service_id must be a UUID"})
			return
		}
	}

	appt, err := s.svc.Reserve(c.Request.Context(), availability.ReserveInput{
		ProviderID:      providerID,
		CustomerID:      req.CustomerID,
		Date:            date,
		StartMinute:     start,
		DurationMinutes: req.DurationMinutes,
		ServiceID:       serviceID,
		IdempotencyKey:  idempotencyKey(c),
	})
	if err != nil {
		s.writeError(c, log, err)
		return
	}
	c.JSON(http.StatusCreated, toAppointmentResponse(appt))
}

func idempotencyKey(c *gin.Context) string {
	key := c.GetHeader("Idempotency-Key")
	if key == "" {
		key = c.GetHeader("X-Idempotency-Key")
	}
	return strings.TrimSpace(key)
}

// DELETE /providers/:provider_id/appointments/:appointment_id
func (s *Server) handleCancel(c *gin.Context) {
	log := s.log.With(slog.String("route", "cancel"))
	providerID := c.Param("provider_id")

	appointmentID, err := uuid.Parse(c.Param("appointment_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "appointment_id must be a UUID"})
		return
	}
	if err := s.svc.Cancel(c.Request.Context(), providerID, appointmentID); err != nil {
		s.writeError(c, log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type blockRequest struct {
	Date   string `json:"date"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Reason string `json:"reason"`
}

// POST /providers/:provider_id/blocked-intervals
func (s *Server) handleBlock(c *gin.Context) {
	log := s.log.With(slog.String("route", "block"))
	providerID := c.Param("provider_id")

	var req blockRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be formatted YYYY-MM-DD"})
		return
	}
	start, err := domain.ParseMinuteOfDay(req.Start)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be formatted HH:MM"})
		return
	}
	end, err := domain.ParseMinuteOfDay(req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must be formatted HH:MM"})
		return
	}

	iv, err := s.svc.Block(c.Request.Context(), availability.BlockInput{
		ProviderID:  providerID,
		Date:        date,
		StartMinute: start,
		EndMinute:   end,
		Reason:      req.Reason,
	})
	if err != nil {
		s.writeError(c, log, err)
		return
	}
	c.JSON(http.StatusCreated, toBlockedResponse(iv))
}

// DELETE /providers/:provider_id/blocked-intervals/:interval_id
func (s *Server) handleUnblock(c *gin.Context) {
	log := s.log.With(slog.String("route", "unblock"))
	providerID := c.Param("provider_id")

	intervalID, err := uuid.Parse(c.Param("interval_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval_id must be a UUID"})
		return
	}
	if err := s.svc.Unblock(c.Request.Context(), providerID, intervalID); err != nil {
		s.writeError(c, log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /providers/:provider_id/working-hours
func (s *Server) handleGetWorkingHours(c *gin.Context) {
	log := s.log.With(slog.String("route", "working_hours.get"))
	providerID := c.Param("provider_id")

	rules, err := s.svc.WorkingHoursWeek(c.Request.Context(), providerID)
	if err != nil {
		s.writeError(c, log, err)
		return
	}
	out := make([]workingHoursRuleBody, 0, len(rules))
	for _, r := range rules {
		out = append(out, toRuleBody(r))
	}
	c.JSON(http.StatusOK, gin.H{"provider_id": providerID, "rules": out})
}

// PUT /providers/:provider_id/working-hours
func (s *Server) handlePutWorkingHours(c *gin.Context) {
	log := s.log.With(slog.String("route", "working_hours.put"))
	providerID := c.Param("provider_id")

	var bodies []workingHoursRuleBody
	if err := c.BindJSON(&bodies); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	rules := make([]domain.WorkingHoursRule, 0, len(bodies))
	for _, body := range bodies {
		rule := domain.WorkingHoursRule{
			Weekday: time.Weekday(body.Weekday),
			IsOpen:  body.IsOpen,
		}
		if body.IsOpen {
			open, err := domain.ParseMinuteOfDay(body.Open)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "open must be formatted HH:MM"})
				return
			}
			close, err := domain.ParseMinuteOfDay(body.Close)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "close must be formatted HH:MM"})
				return
			}
			rule.OpenMinute = open
			rule.CloseMinute = close
		}
		rules = append(rules, rule)
	}

	saved, err := s.svc.SaveWorkingHours(c.Request.Context(), providerID, rules)
	if err != nil {
		s.writeError(c, log, err)
		return
	}
	out := make([]workingHoursRuleBody, 0, len(saved))
	for _, r := range saved {
		out = append(out, toRuleBody(r))
	}
	c.JSON(http.StatusOK, gin.H{"provider_id": providerID, "rules": out})
}

// GET /providers/:provider_id/services
func (s *Server) handleListServices(c *gin.Context) {
	log := s.log.With(slog.String("route", "services.list"))
	providerID := c.Param("provider_id")

	services, err := s.svc.ListServices(c.Request.Context(), providerID)
	if err != nil {
		s.writeError(c, log, err)
		return
	}
	out := make([]serviceResponse, 0, len(services))
	for _, svc := range services {
		out = append(out, serviceResponse{
			ID:              svc.ID.String(),
			Name:            svc.Name,
			DurationMinutes: svc.DurationMinutes,
		})
	}
	c.JSON(http.StatusOK, gin.H{"provider_id": providerID, "services": out})
}

type invalidateRequest struct {
	Date string `json:"date"`
}

// POST /providers/:provider_id/cache/invalidations
func (s *Server) handleInvalidate(c *gin.Context) {
	log := s.log.With(slog.String("route", "cache.invalidate"))
	providerID := c.Param("provider_id")

	var req invalidateRequest
	if c.Request.ContentLength > 0 {
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
			return
		}
	}
	var date *time.Time
	if req.Date != "" {
		parsed, err := domain.ParseDate(req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be formatted YYYY-MM-DD"})
			return
		}
		date = &parsed
	}

	if err := s.svc.Invalidate(c.Request.Context(), providerID, date); err != nil {
		s.writeError(c, log, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type settingsBody struct {
	DefaultGranularityMinutes *int `json:"default_granularity_minutes,omitempty"`
	MaxAdvanceDays            *int `json:"max_advance_days,omitempty"`
}

// GET /admin/settings
func (s *Server) handleGetSettings(c *gin.Context) {
	snap := s.settings.Current()
	c.JSON(http.StatusOK, gin.H{
		"default_granularity_minutes": snap.DefaultGranularityMinutes,
		"max_advance_days":            snap.MaxAdvanceDays,
	})
}

// PUT /admin/settings
func (s *Server) handlePutSettings(c *gin.Context) {
	log := s.log.With(slog.String("route", "settings.put"))

	var req settingsBody
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	snap, err := s.settings.Update(func(cur settings.Snapshot) settings.Snapshot {
		if req.DefaultGranularityMinutes != nil {
			cur.DefaultGranularityMinutes = *req.DefaultGranularityMinutes
		}
		if req.MaxAdvanceDays != nil {
			cur.MaxAdvanceDays = *req.MaxAdvanceDays
		}
		return cur
	})
	if err != nil {
		log.Warn("settings update rejected", slog.Any("err", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	log.Info("settings updated",
		slog.Int("default_granularity_minutes", snap.DefaultGranularityMinutes),
		slog.Int("max_advance_days", snap.MaxAdvanceDays))
	c.JSON(http.StatusOK, gin.H{
		"default_granularity_minutes": snap.DefaultGranularityMinutes,
		"max_advance_days":            snap.MaxAdvanceDays,
	})
}
