package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailtide/mailtide/models"
	testingutil "github.com/mailtide/mailtide/testing"
	"github.com/mailtide/mailtide/utils"
)

func TestDripProgressRepositoryCursorLifecycle(t *testing.T) {
	testingutil.RunWithDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures, customer, campaign := seedOwner(t, testDB)
		repo := NewDripProgressRepository(testDB.DB)
		ctx := context.Background()

		steps := models.DripSequence{
			{TemplateRef: "welcome"},
			{Delay: 1, DelayUnit: models.DelayUnitDays, TemplateRef: "day-one"},
		}
		schedule, err := fixtures.CreateTestDripSchedule(customer.ID, campaign.ID, steps)
		require.NoError(t, err)
		subs, err := fixtures.CreateMultipleTestSubscribers(customer.ID, 2)
		require.NoError(t, err)

		entered := utils.UTCNow()
		require.NoError(t, repo.SaveBatch(ctx, []*models.DripProgress{
			{ScheduleID: schedule.ID, SubscriberID: subs[0].ID, EnteredAt: entered, StepEnteredAt: entered},
			{ScheduleID: schedule.ID, SubscriberID: subs[1].ID, EnteredAt: entered, StepEnteredAt: entered},
		}))

		cursors, err := repo.ListBySchedule(ctx, schedule.ID)
		require.NoError(t, err)
		require.Len(t, cursors, 2)
		assert.Equal(t, subs[0].ID, cursors[0].SubscriberID, "cursors come back in subscriber order")
		assert.Equal(t, subs[1].ID, cursors[1].SubscriberID)
		assert.Equal(t, 0, cursors[0].StepIndex)

		later := entered.Add(time.Hour)
		require.NoError(t, repo.Advance(ctx, cursors[0].ID, 1, later))

		cursors, err = repo.ListBySchedule(ctx, schedule.ID)
		require.NoError(t, err)
		require.Len(t, cursors, 2)
		assert.Equal(t, 1, cursors[0].StepIndex)
		assert.WithinDuration(t, later, cursors[0].StepEnteredAt, 2*time.Second)
		assert.Equal(t, 0, cursors[1].StepIndex)

		// re-resolving the same recipient must not reset the advanced cursor
		require.NoError(t, repo.SaveBatch(ctx, []*models.DripProgress{
			{ScheduleID: schedule.ID, SubscriberID: subs[0].ID, EnteredAt: later, StepEnteredAt: later},
		}))
		cursors, err = repo.ListBySchedule(ctx, schedule.ID)
		require.NoError(t, err)
		require.Len(t, cursors, 2)
		assert.Equal(t, 1, cursors[0].StepIndex)
		assert.WithinDuration(t, entered, cursors[0].EnteredAt, 2*time.Second)

		open, err := repo.CountOpen(ctx, schedule.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), open)

		require.NoError(t, repo.Complete(ctx, cursors[1].ID, later))
		finished, err := repo.ByID(ctx, cursors[1].ID)
		require.NoError(t, err)
		require.NotNil(t, finished)
		assert.True(t, finished.Completed())

		open, err = repo.CountOpen(ctx, schedule.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), open)

		cursors, err = repo.ListBySchedule(ctx, schedule.ID)
		require.NoError(t, err)
		assert.Len(t, cursors, 2, "completed cursors stay listed so runs can skip them")

		assert.ErrorContains(t, repo.Advance(ctx, 999999, 1, later), "not found")
		assert.ErrorContains(t, repo.Complete(ctx, 999999, later), "not found")
	})
}
