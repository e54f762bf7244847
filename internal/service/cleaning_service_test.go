package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"prenotazioni/internal/domain"
	"prenotazioni/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleaningScheduler_ServiceResolution(t *testing.T) {
	ctx := context.Background()
	when := checkoutTime.Add(2 * time.Hour)

	f := newFixture(t)
	def := f.service(t, "Default Pulizie", true)
	assigned := f.service(t, "Pulizie Villa", false)
	explicit := &models.CleaningService{Name: "Solo Email", Email: "pulizie@example.com"}
	require.NoError(t, f.db.UpsertCleaningService(ctx, explicit))

	withService := f.property(t, "Villa Bella", &assigned.ID)
	withoutService := f.property(t, "Casa Mare", nil)

	tests := []struct {
		name      string
		property  *models.Property
		explicit  *string
		want      string
		wantKind  models.NotificationKind
		recipient string
	}{
		{name: "explicit wins", property: withService, explicit: &explicit.ID, want: explicit.ID,
			wantKind: models.NotificationEmail, recipient: "pulizie@example.com"},
		{name: "property service", property: withService, want: assigned.ID,
			wantKind: models.NotificationSMS, recipient: assigned.Phone},
		{name: "default", property: withoutService, want: def.ID,
			wantKind: models.NotificationSMS, recipient: def.Phone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(f.queue.notifications())
			task, err := f.cleaning.ScheduleCleaning(ctx, ScheduleRequest{
				PropertyID: tt.property.ID,
				When:       when,
				ServiceID:  tt.explicit,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, *task.ServiceID)
			assert.Equal(t, models.CleaningScheduled, task.Status)

			sent := f.queue.notifications()
			require.Len(t, sent, before+1)
			assert.Equal(t, tt.wantKind, sent[before].Kind)
			assert.Equal(t, tt.recipient, sent[before].Recipient)
		})
	}

	t.Run("unknown explicit service", func(t *testing.T) {
		_, err := f.cleaning.ScheduleCleaning(ctx, ScheduleRequest{
			PropertyID: withService.ID,
			When:       when,
			ServiceID:  strPtr("missing"),
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("unknown property", func(t *testing.T) {
		_, err := f.cleaning.ScheduleCleaning(ctx, ScheduleRequest{PropertyID: "missing", When: when})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("missing time", func(t *testing.T) {
		_, err := f.cleaning.ScheduleCleaning(ctx, ScheduleRequest{PropertyID: withService.ID})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestCleaningScheduler_NoService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.property(t, "Villa Bella", nil)

	task, err := f.cleaning.ScheduleCleaning(ctx, ScheduleRequest{PropertyID: p.ID, When: checkoutTime})
	assert.Nil(t, task)
	assert.ErrorIs(t, err, domain.ErrNoServiceAvailable)

	tasks, err := f.db.ListCleaningTasksByProperty(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCleaningScheduler_EnqueueFailureKeepsTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.queue.err = errors.New("queue down")
	f.service(t, "Default Pulizie", true)
	p := f.property(t, "Villa Bella", nil)

	task, err := f.cleaning.ScheduleCleaning(ctx, ScheduleRequest{PropertyID: p.ID, When: checkoutTime})
	require.NoError(t, err)

	stored, err := f.db.GetCleaningTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CleaningScheduled, stored.Status)
}

func TestCleaningScheduler_Upcoming(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.service(t, "Default Pulizie", true)
	p := f.property(t, "Villa Bella", nil)

	offsets := []time.Duration{72 * time.Hour, -time.Hour, 3 * time.Hour, 9 * 24 * time.Hour}
	ids := make([]string, len(offsets))
	for i, off := range offsets {
		task, err := f.cleaning.ScheduleCleaning(ctx, ScheduleRequest{PropertyID: p.ID, When: checkoutTime.Add(off)})
		require.NoError(t, err)
		ids[i] = task.ID
	}

	upcoming, err := f.cleaning.UpcomingCleaningTasks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	assert.Equal(t, ids[2], upcoming[0].ID)
	assert.Equal(t, ids[0], upcoming[1].ID)

	wide, err := f.cleaning.UpcomingCleaningTasks(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, wide, 3)

	_, err = f.cleaning.CompleteCleaningTask(ctx, ids[2])
	require.NoError(t, err)
	_, err = f.cleaning.CancelCleaningTask(ctx, ids[0])
	require.NoError(t, err)

	upcoming, err = f.cleaning.UpcomingCleaningTasks(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, upcoming)

	_, err = f.cleaning.CancelCleaningTask(ctx, ids[2])
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
