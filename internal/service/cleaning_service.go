package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"prenotazioni/internal/domain"
	"prenotazioni/internal/events"
	"prenotazioni/internal/metrics"
	"prenotazioni/internal/models"

	"github.com/rs/zerolog"
)

type ScheduleRequest struct {
	PropertyID string
	When       time.Time
	BookingID  *string
	// ServiceID overrides the property's assigned service.
	ServiceID *string
	Notes     string
}

// CleaningScheduler creates cleaning tasks and tells the service about them.
type CleaningScheduler struct {
	store        domain.Store
	queue        domain.NotificationQueue
	eventBus     domain.EventPublisher
	location     *time.Location
	upcomingDays int
	now          func() time.Time
	logger       *zerolog.Logger
}

func NewCleaningScheduler(
	store domain.Store,
	queue domain.NotificationQueue,
	eventBus domain.EventPublisher,
	location *time.Location,
	upcomingDays int,
	logger *zerolog.Logger,
) *CleaningScheduler {
	if location == nil {
		location = time.UTC
	}
	if upcomingDays <= 0 {
		upcomingDays = models.DefaultUpcomingCleaningDays
	}
	return &CleaningScheduler{
		store:        store,
		queue:        queue,
		eventBus:     eventBus,
		location:     location,
		upcomingDays: upcomingDays,
		now:          time.Now,
		logger:       ensureLogger(logger),
	}
}

// ScheduleCleaning resolves the service (explicit, then the property's, then the
// default) and stores a scheduled task. Without any service it fails with
// domain.ErrNoServiceAvailable and stores nothing.
func (s *CleaningScheduler) ScheduleCleaning(ctx context.Context, req ScheduleRequest) (*models.CleaningTask, error) {
	if req.When.IsZero() {
		return nil, domain.NewValidationError("scheduled_at", "missing")
	}

	property, err := s.store.GetProperty(ctx, req.PropertyID)
	if err != nil {
		return nil, err
	}

	service, err := s.resolveService(ctx, property, req.ServiceID)
	if err != nil {
		if errors.Is(err, domain.ErrNoServiceAvailable) {
			metrics.IncCleaning("no_service")
			s.publishEvent(events.EventCleaningSkipped, events.CleaningEventPayload{
				PropertyID:  property.ID,
				BookingID:   deref(req.BookingID),
				ScheduledAt: req.When.UTC(),
				Reason:      err.Error(),
			})
		}
		return nil, err
	}

	task := &models.CleaningTask{
		PropertyID:  property.ID,
		ServiceID:   &service.ID,
		ScheduledAt: req.When.UTC(),
		Status:      models.CleaningScheduled,
		BookingID:   req.BookingID,
		Notes:       strings.TrimSpace(req.Notes),
	}
	if err := s.store.CreateCleaningTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to schedule cleaning: %w", err)
	}

	metrics.IncCleaning("scheduled")
	s.publishEvent(events.EventCleaningScheduled, events.CleaningEventPayload{
		TaskID:      task.ID,
		PropertyID:  task.PropertyID,
		BookingID:   deref(task.BookingID),
		ServiceID:   service.ID,
		ScheduledAt: task.ScheduledAt,
	})
	s.notifyService(ctx, service, property, task)

	s.logger.Info().
		Str("task_id", task.ID).
		Str("property_id", property.ID).
		Str("service", service.Name).
		Time("scheduled_at", task.ScheduledAt).
		Msg("Cleaning scheduled")
	return task, nil
}

func (s *CleaningScheduler) resolveService(
	ctx context.Context,
	property *models.Property,
	explicit *string,
) (*models.CleaningService, error) {
	if explicit != nil && *explicit != "" {
		service, err := s.store.GetCleaningService(ctx, *explicit)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("service_id", fmt.Sprintf("cleaning service %q does not exist", *explicit))
		}
		return service, err
	}

	if property.CleaningServiceID != nil && *property.CleaningServiceID != "" {
		service, err := s.store.GetCleaningService(ctx, *property.CleaningServiceID)
		if err == nil {
			return service, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	service, err := s.store.GetDefaultCleaningService(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("property %q: %w", property.Name, domain.ErrNoServiceAvailable)
	}
	return service, err
}

func (s *CleaningScheduler) notifyService(
	ctx context.Context,
	service *models.CleaningService,
	property *models.Property,
	task *models.CleaningTask,
) {
	if s.queue == nil {
		return
	}
	recipient, kind, ok := service.Contact()
	if !ok {
		s.logger.Warn().Str("service", service.Name).Msg("Cleaning service has no contact, notification skipped")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🧹 Pulizia programmata\nStruttura: %s", property.Name)
	if property.Address != "" {
		fmt.Fprintf(&b, ", %s", property.Address)
	}
	if property.City != "" {
		fmt.Fprintf(&b, " (%s)", property.City)
	}
	fmt.Fprintf(&b, "\nQuando: %s", task.ScheduledAt.In(s.location).Format("02/01/2006 15:04"))
	if task.Notes != "" {
		fmt.Fprintf(&b, "\nNote: %s", task.Notes)
	}

	n := models.Notification{Recipient: recipient, Message: b.String(), Kind: kind}
	if err := s.queue.Enqueue(ctx, n); err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to enqueue cleaning notification")
	}
}

// UpcomingCleaningTasks lists scheduled tasks between now and withinDays from now.
// A non-positive withinDays uses the configured window.
func (s *CleaningScheduler) UpcomingCleaningTasks(ctx context.Context, withinDays int) ([]*models.CleaningTask, error) {
	if withinDays <= 0 {
		withinDays = s.upcomingDays
	}
	now := s.now().UTC()
	return s.store.ListScheduledCleaningTasks(ctx, now, now.AddDate(0, 0, withinDays))
}

func (s *CleaningScheduler) CompleteCleaningTask(ctx context.Context, id string) (*models.CleaningTask, error) {
	return s.store.UpdateCleaningTaskStatus(ctx, id, models.CleaningCompleted)
}

func (s *CleaningScheduler) CancelCleaningTask(ctx context.Context, id string) (*models.CleaningTask, error) {
	return s.store.UpdateCleaningTaskStatus(ctx, id, models.CleaningCancelled)
}

func (s *CleaningScheduler) publishEvent(eventType string, payload events.CleaningEventPayload) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("publish event error")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
