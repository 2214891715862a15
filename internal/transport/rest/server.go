package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"trimly/internal/domain"
	"trimly/internal/service/availability"
	"trimly/internal/settings"
	"trimly/internal/store"
)

type availabilityService interface {
	ComputeAvailableSlots(ctx context.Context, providerID string, date time.Time, durationMinutes, granularityMinutes int) ([]domain.Slot, error)
	Reserve(ctx context.Context, in availability.ReserveInput) (domain.Appointment, error)
	Cancel(ctx context.Context, providerID string, appointmentID uuid.UUID) error
	Block(ctx context.Context, in availability.BlockInput) (domain.BlockedInterval, error)
	Unblock(ctx context.Context, providerID string, intervalID uuid.UUID) error
	WorkingHoursWeek(ctx context.Context, providerID string) ([]domain.WorkingHoursRule, error)
	SaveWorkingHours(ctx context.Context, providerID string, rules []domain.WorkingHoursRule) ([]domain.WorkingHoursRule, error)
	ListServices(ctx context.Context, providerID string) ([]domain.Service, error)
	Invalidate(ctx context.Context, providerID string, date *time.Time) error
}

type Server struct {
	svc      availabilityService
	settings *settings.Service
	log      *slog.Logger
}

func NewServer(svc availabilityService, cfg *settings.Service, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		svc:      svc,
		settings: cfg,
		log:      log.With(slog.String("component", "rest")),
	}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)

	providers := r.Group("/providers/:provider_id")
	{
		providers.GET("/availability", s.handleAvailability)
		providers.GET("/working-hours", s.handleGetWorkingHours)
		providers.PUT("/working-hours", s.handlePutWorkingHours)
		providers.GET("/services", s.handleListServices)
		providers.POST("/appointments", s.handleReserve)
		providers.DELETE("/appointments/:appointment_id", s.handleCancel)
		providers.POST("/blocked-intervals", s.handleBlock)
		providers.DELETE("/blocked-intervals/:interval_id", s.handleUnblock)
		providers.POST("/cache/invalidations", s.handleInvalidate)
	}

	admin := r.Group("/admin")
	{
		admin.GET("/settings", s.handleGetSettings)
		admin.PUT("/settings", s.handlePutSettings)
	}

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError is the single service-to-HTTP error ladder. Anything it does
// not recognize is reported as an opaque internal error so storage details
// never leak to clients.
func (s *Server) writeError(c *gin.Context, log *slog.Logger, err error) {
	var vErr *availability.ValidationError
	var closed *availability.ClosedDayError
	var conflict *availability.ConflictError
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", slog.Any("err", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error()})
	case errors.As(err, &closed):
		log.Info("closed day rejected", slog.String("provider_id", closed.ProviderID))
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": closed.Error(),
			"date":  closed.Date.Format(domain.DateLayout),
		})
	case errors.As(err, &conflict):
		log.Info("slot conflict", slog.String("kind", string(conflict.Kind)))
		c.JSON(http.StatusConflict, gin.H{
			"error": conflict.Error(),
			"conflict": gin.H{
				"kind":  string(conflict.Kind),
				"id":    conflict.IntervalID.String(),
				"start": conflict.StartMinute.String(),
				"end":   conflict.EndMinute.String(),
			},
		})
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Info("idempotency key reuse rejected")
		c.JSON(http.StatusConflict, gin.H{"error": "this request key was already used for a different reservation"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrBusy):
		log.Info("calendar busy")
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "calendar is busy, retry shortly"})
	case errors.Is(err, store.ErrUnavailable):
		log.Error("store unavailable", slog.Any("err", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
	default:
		log.Error("request failed", slog.Any("err", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
