package engine

import (
	"context"
	"testing"
	"time"

	"automail/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequeueStale(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - old claims go back to pending", func(t *testing.T) {
		f := newFixture(t, func(o *Options) { o.StaleProcessing = 10 * time.Minute })
		_, _, enrollment := enrollOne(t, f, stepSpec{})

		ids, err := f.engine.ClaimDue(ctx, 10)
		require.NoError(t, err)
		require.Len(t, ids, 1)

		f.clock.Advance(5 * time.Minute)
		n, err := f.engine.RequeueStale(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n, "fresh claims are kept")

		f.clock.Advance(6 * time.Minute)
		n, err = f.engine.RequeueStale(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		send := loadSends(t, f.db, enrollment.ID)[0]
		assert.Equal(t, models.SendPending, send.Status)
		assert.Nil(t, send.ClaimedAt)

		report, err := f.engine.Dispatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Sent)
	})

	t.Run("Success - zero threshold disables the reaper", func(t *testing.T) {
		f := newFixture(t, func(o *Options) { o.StaleProcessing = 0 })
		enrollOne(t, f, stepSpec{})

		_, err := f.engine.ClaimDue(ctx, 10)
		require.NoError(t, err)
		f.clock.Advance(48 * time.Hour)

		n, err := f.engine.RequeueStale(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		assert.Equal(t, int64(1), countRows(t, f.db, &models.ScheduledSend{}, "status = ?", models.SendProcessing))
	})
}

func TestCancelEnrollment(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - cancels enrollment and its pending send", func(t *testing.T) {
		f := newFixture(t)
		seq, lead, enrollment := enrollOne(t, f, stepSpec{}, stepSpec{DelayDays: 1})

		changed, err := f.engine.CancelEnrollment(ctx, enrollment.ID, "unsubscribed")
		require.NoError(t, err)
		assert.True(t, changed)

		updated := loadEnrollment(t, f.db, seq.ID, lead.ID)
		assert.Equal(t, models.EnrollmentCancelled, updated.Status)
		assert.Equal(t, "unsubscribed", updated.CancelReason)
		require.NotNil(t, updated.CancelledAt)
		assert.Nil(t, updated.NextEmailScheduledAt)

		sends := loadSends(t, f.db, enrollment.ID)
		require.Len(t, sends, 1)
		assert.Equal(t, models.SendCancelled, sends[0].Status)

		report, err := f.engine.Dispatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Claimed)
		assert.Equal(t, 0, f.transport.count())
	})

	t.Run("Success - terminal enrollments are left alone", func(t *testing.T) {
		f := newFixture(t)
		seq, lead, enrollment := enrollOne(t, f, stepSpec{})
		_, err := f.engine.Dispatch(ctx)
		require.NoError(t, err)

		changed, err := f.engine.CancelEnrollment(ctx, enrollment.ID, "unsubscribed")
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, models.EnrollmentCompleted, loadEnrollment(t, f.db, seq.ID, lead.ID).Status)
	})

	t.Run("Error - unknown enrollment", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.CancelEnrollment(ctx, 4242, "")
		assert.ErrorIs(t, err, ErrEnrollmentNotFound)
	})
}

func TestGetEnrollment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, _, enrollment := enrollOne(t, f, stepSpec{}, stepSpec{DelayDays: 1})
	_, err := f.engine.Dispatch(ctx)
	require.NoError(t, err)

	got, err := f.engine.GetEnrollment(ctx, 1, enrollment.ID)
	require.NoError(t, err)
	require.Len(t, got.Sends, 2)
	assert.Equal(t, 1, got.Sends[0].Step.StepOrder)
	assert.Equal(t, 2, got.Sends[1].Step.StepOrder)

	_, err = f.engine.GetEnrollment(ctx, 2, enrollment.ID)
	assert.ErrorIs(t, err, ErrEnrollmentNotFound)
}

func TestSequenceStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seq := createTestSequence(t, f.db, 1, models.TriggerManual, stepSpec{}, stepSpec{DelayDays: 1})
	a := createTestLead(t, f.db, 1, "a@example.com")
	b := createTestLead(t, f.db, 1, "b@example.com")

	_, err := f.engine.BulkEnroll(ctx, 1, seq.ID, []uint{a.ID, b.ID})
	require.NoError(t, err)
	_, err = f.engine.Dispatch(ctx)
	require.NoError(t, err)
	_, err = f.engine.CancelEnrollment(ctx, loadEnrollment(t, f.db, seq.ID, b.ID).ID, "unsubscribed")
	require.NoError(t, err)

	stats, err := f.engine.SequenceStats(ctx, 1, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalEnrolled)
	assert.Equal(t, int64(0), stats.TotalCompleted)
	assert.Equal(t, int64(1), stats.Enrollments[models.EnrollmentActive])
	assert.Equal(t, int64(1), stats.Enrollments[models.EnrollmentCancelled])
	assert.Equal(t, int64(2), stats.Sends[models.SendSent])
	assert.Equal(t, int64(1), stats.Sends[models.SendPending])
	assert.Equal(t, int64(1), stats.Sends[models.SendCancelled])
	assert.Equal(t, 2, stats.CounterEnrolled)
	require.Len(t, stats.Steps, 2)
	assert.Equal(t, 2, stats.Steps[0].SentCount)

	_, err = f.engine.SequenceStats(ctx, 2, seq.ID)
	assert.ErrorIs(t, err, ErrSequenceNotFound)
}

func TestTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seq := createTestSequence(t, f.db, 1, models.TriggerTag, stepSpec{}, stepSpec{DelayDays: 1})
	updateSequence(t, f.db, seq, func(s *models.Sequence) { s.TriggerConfig = models.TriggerConfig{Tag: "lead"} })
	lead := createTestLead(t, f.db, 1, "a@example.com", "lead")

	report, err := f.engine.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Triggers.Created)
	assert.Equal(t, 1, report.Dispatch.Claimed)
	assert.Equal(t, 1, report.Dispatch.Sent)

	f.clock.Advance(24 * time.Hour)
	report, err = f.engine.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Triggers.Created)
	assert.Equal(t, 1, report.Dispatch.Sent)

	enrollment := loadEnrollment(t, f.db, seq.ID, lead.ID)
	assert.Equal(t, models.EnrollmentCompleted, enrollment.Status)
	assert.Equal(t, 2, f.transport.count())
}
