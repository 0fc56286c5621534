package deletion_test

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/darkkaiser/deletion-server/internal/pkg/errors"
	"github.com/darkkaiser/deletion-server/internal/service/deletion"
	"github.com/darkkaiser/deletion-server/internal/service/deletion/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_Schedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	repo := f.put(t, schema.Repository, "1", nil)

	sd, err := f.scheduler.Schedule(ctx, repo, actor, 30*time.Minute)
	require.NoError(t, err)

	assert.NotEmpty(t, sd.ID)
	assert.Equal(t, repo, sd.Target)
	assert.True(t, sd.DueAt.Equal(epoch.Add(30*time.Minute)))
	assert.True(t, sd.CreatedAt.Equal(epoch))
	assert.False(t, sd.InProgress)

	assert.Equal(t, deletion.StatusPendingDeletion, f.entity(t, repo).Status)
	assert.True(t, f.hasMarker(t, repo))

	stored, err := f.store.GetSchedule(ctx, sd.ID)
	require.NoError(t, err)
	assert.Equal(t, actor.Email, stored.Actor.Email)
}

func TestScheduler_Schedule_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	repo := f.put(t, schema.Repository, "1", nil)

	_, err := f.scheduler.Schedule(ctx, repo, actor, -time.Second)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.InvalidInput))
	assert.Equal(t, deletion.StatusActive, f.entity(t, repo).Status, "실패한 예약은 상태를 바꾸지 않아야 합니다")

	_, err = f.scheduler.Schedule(ctx, deletion.EntityRef{Type: schema.Repository, ID: "missing"}, actor, 0)
	assert.ErrorIs(t, err, deletion.ErrEntityNotFound)
	assert.True(t, apperrors.Is(err, apperrors.NotFound))
}

func TestScheduler_Reschedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	repo := f.put(t, schema.Repository, "1", nil)

	first, err := f.scheduler.Schedule(ctx, repo, actor, time.Hour)
	require.NoError(t, err)

	t.Run("요청자 없이 다시 예약하면 실행 시각만 바뀐다", func(t *testing.T) {
		second, err := f.scheduler.Schedule(ctx, repo, nil, 2*time.Hour)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.True(t, second.DueAt.Equal(epoch.Add(2*time.Hour)))
		require.NotNil(t, second.Actor)
		assert.Equal(t, actor.ID, second.Actor.ID)
	})

	t.Run("새 요청자가 주어지면 요청자도 바뀐다", func(t *testing.T) {
		other := &deletion.ActorRef{ID: "u2", Email: "other@example.com"}
		third, err := f.scheduler.Schedule(ctx, repo, other, 10*time.Minute)
		require.NoError(t, err)

		stored, err := f.store.GetSchedule(ctx, third.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, stored.ID)
		assert.Equal(t, "u2", stored.Actor.ID)
		assert.True(t, stored.DueAt.Equal(epoch.Add(10*time.Minute)), "더 이른 시각으로도 변경할 수 있어야 합니다")
	})

	t.Run("실행 중인 예약은 변경할 수 없다", func(t *testing.T) {
		claimed, err := f.store.ClaimSchedule(ctx, first.ID)
		require.NoError(t, err)
		require.True(t, claimed)

		_, err = f.scheduler.Schedule(ctx, repo, actor, 0)
		assert.ErrorIs(t, err, deletion.ErrDeletionInProgress)
	})
}

// staleLookupStore 예약 조회를 한 번 놓치는 저장소입니다. 조회와 생성 사이에 다른 프로세스가 예약을 만든 상황을 재현합니다.
type staleLookupStore struct {
	deletion.Store

	missOnce bool
}

func (s *staleLookupStore) FindScheduleByTarget(ctx context.Context, ref deletion.EntityRef) (*deletion.ScheduledDeletion, error) {
	if s.missOnce {
		s.missOnce = false
		return nil, deletion.ErrScheduleNotFound
	}
	return s.Store.FindScheduleByTarget(ctx, ref)
}

func TestScheduler_ScheduleCreatedConcurrently(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	repo := f.put(t, schema.Repository, "1", nil)

	first, err := f.scheduler.Schedule(ctx, repo, actor, time.Hour)
	require.NoError(t, err)

	s := deletion.NewScheduler(&staleLookupStore{Store: f.store, missOnce: true}, deletion.WithSchedulerClock(f.clock))

	other := &deletion.ActorRef{ID: "u2", Email: "other@example.com"}
	second, err := s.Schedule(ctx, repo, other, 10*time.Minute)
	require.NoError(t, err, "이미 생성된 예약의 실행 시각을 변경해야 합니다")

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.DueAt.Equal(epoch.Add(10*time.Minute)))

	stored, err := f.store.GetSchedule(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, stored.DueAt.Equal(epoch.Add(10*time.Minute)))
	assert.Equal(t, "u2", stored.Actor.ID)
}

func TestScheduler_RescheduleRestoresPendingStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	repo := f.put(t, schema.Repository, "1", nil)

	f.scheduleNow(t, repo, actor)
	require.NoError(t, f.store.SetStatus(ctx, repo, deletion.StatusActive))
	require.NoError(t, f.store.DeleteMarker(ctx, deletion.MarkerKey(repo)))

	f.scheduleNow(t, repo, nil)

	assert.Equal(t, deletion.StatusPendingDeletion, f.entity(t, repo).Status)
	assert.True(t, f.hasMarker(t, repo))
}

func TestScheduler_Cancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	repo := f.put(t, schema.Repository, "1", nil)

	sd := f.scheduleNow(t, repo, actor)
	require.NoError(t, f.scheduler.Cancel(ctx, sd.ID))

	assert.Equal(t, deletion.StatusActive, f.entity(t, repo).Status)
	assert.False(t, f.hasMarker(t, repo))
	assert.False(t, f.hasSchedule(t, repo))

	assert.Equal(t, deletion.RunSummary{}, f.runDue(t))
	assert.True(t, f.exists(t, repo))

	assert.ErrorIs(t, f.scheduler.Cancel(ctx, sd.ID), deletion.ErrScheduleNotFound)
}

func TestScheduler_CancelClaimed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	repo := f.put(t, schema.Repository, "1", nil)

	sd := f.scheduleNow(t, repo, actor)
	claimed, err := f.store.ClaimSchedule(ctx, sd.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	err = f.scheduler.Cancel(ctx, sd.ID)
	assert.ErrorIs(t, err, deletion.ErrScheduleClaimed)
	assert.True(t, apperrors.Is(err, apperrors.Conflict))
	assert.Equal(t, deletion.StatusPendingDeletion, f.entity(t, repo).Status)
}

func TestScheduler_CancelDeletedEntity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	repo := f.put(t, schema.Repository, "1", nil)

	sd := f.scheduleNow(t, repo, actor)
	require.NoError(t, f.store.Update(ctx, func(tx deletion.Tx) error { return tx.DeleteEntity(repo) }))

	require.NoError(t, f.scheduler.Cancel(ctx, sd.ID), "엔티티가 이미 없어도 예약은 취소되어야 합니다")
	assert.False(t, f.hasMarker(t, repo))
}

func TestScheduler_ScheduleDefault(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	repo := f.put(t, schema.Repository, "1", nil)

	s := deletion.NewScheduler(f.store,
		deletion.WithSchedulerClock(f.clock),
		deletion.WithDefaultDelay(72*time.Hour),
	)

	sd, err := s.ScheduleDefault(ctx, repo, actor)
	require.NoError(t, err)
	assert.True(t, sd.DueAt.Equal(epoch.Add(72*time.Hour)))
}
