// Package storetest deletion.Store 구현체가 공통으로 지켜야 할 동작을 검증하는 테스트 모음을 제공합니다.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/darkkaiser/deletion-server/internal/service/deletion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory 테스트마다 비어 있는 새 저장소를 생성합니다.
type Factory func(t *testing.T) deletion.Store

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func ref(typ, id string) deletion.EntityRef {
	return deletion.EntityRef{Type: deletion.EntityType(typ), ID: id}
}

func newSchedule(id string, target deletion.EntityRef, dueAt time.Time) *deletion.ScheduledDeletion {
	return &deletion.ScheduledDeletion{ID: id, Target: target, DueAt: dueAt, CreatedAt: base}
}

// Run 모든 공통 테스트를 실행합니다.
func Run(t *testing.T, newStore Factory) {
	t.Run("Entities", func(t *testing.T) { testEntities(t, newStore(t)) })
	t.Run("FindEntitiesExactMatch", func(t *testing.T) { testFindEntitiesExactMatch(t, newStore(t)) })
	t.Run("Schedules", func(t *testing.T) { testSchedules(t, newStore(t)) })
	t.Run("ListDueSchedules", func(t *testing.T) { testListDueSchedules(t, newStore(t)) })
	t.Run("ClaimIsExclusive", func(t *testing.T) { testClaimIsExclusive(t, newStore(t)) })
	t.Run("Markers", func(t *testing.T) { testMarkers(t, newStore(t)) })
	t.Run("UpdateCommitAndRollback", func(t *testing.T) { testUpdate(t, newStore(t)) })
}

func testEntities(t *testing.T, s deletion.Store) {
	ctx := context.Background()
	r := ref("repository", "1")

	_, err := s.GetEntity(ctx, r)
	require.ErrorIs(t, err, deletion.ErrEntityNotFound)
	require.ErrorIs(t, s.SetStatus(ctx, r, deletion.StatusActive), deletion.ErrEntityNotFound)

	require.NoError(t, s.PutEntity(ctx, &deletion.Entity{
		Ref:    r,
		Status: deletion.StatusActive,
		Owner:  &deletion.ActorRef{ID: "u1", Email: "owner@example.com"},
		Attrs:  map[string]string{"name": "example/example", "provider": "dummy"},
	}))

	got, err := s.GetEntity(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, deletion.StatusActive, got.Status)
	assert.Equal(t, "example/example", got.Attr("name"))
	require.NotNil(t, got.Owner)
	assert.Equal(t, "owner@example.com", got.Owner.Email)

	// 반환된 값을 수정해도 저장소에는 영향이 없어야 합니다.
	got.Attrs["name"] = "mutated"
	again, err := s.GetEntity(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, "example/example", again.Attr("name"))

	require.NoError(t, s.SetStatus(ctx, r, deletion.StatusPendingDeletion))
	got, err = s.GetEntity(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, deletion.StatusPendingDeletion, got.Status)
}

func testFindEntitiesExactMatch(t *testing.T, s deletion.Store) {
	ctx := context.Background()

	put := func(typ, id string, attrs map[string]string) {
		require.NoError(t, s.PutEntity(ctx, &deletion.Entity{Ref: ref(typ, id), Status: deletion.StatusActive, Attrs: attrs}))
	}
	put("commit", "c1", map[string]string{"repository_id": "1", "key": "1234abcd"})
	put("commit", "c2", map[string]string{"repository_id": "2", "key": "1234abcd"})
	put("commit", "c3", map[string]string{"repository_id": "11"})
	put("release", "r1", map[string]string{"repository_id": "1"})

	found, err := s.FindEntities(ctx, "commit", "repository_id", "1")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "c1", found[0].Ref.ID)

	found, err = s.FindEntities(ctx, "commit", "missing_attr", "1")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func testSchedules(t *testing.T, s deletion.Store) {
	ctx := context.Background()
	target := ref("repository", "1")

	_, err := s.FindScheduleByTarget(ctx, target)
	require.ErrorIs(t, err, deletion.ErrScheduleNotFound)

	sd := newSchedule("s1", target, base)
	sd.Actor = &deletion.ActorRef{ID: "u1", Email: "actor@example.com"}
	require.NoError(t, s.CreateSchedule(ctx, sd))
	require.ErrorIs(t, s.CreateSchedule(ctx, newSchedule("s2", target, base)), deletion.ErrScheduleExists)

	got, err := s.FindScheduleByTarget(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.True(t, got.DueAt.Equal(base))
	require.NotNil(t, got.Actor)
	assert.Equal(t, "actor@example.com", got.Actor.Email)

	// actor가 nil이면 기존 요청자를 유지합니다.
	later := base.Add(time.Hour)
	require.NoError(t, s.RescheduleUnclaimed(ctx, "s1", later, nil))
	got, err = s.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.DueAt.Equal(later))
	require.NotNil(t, got.Actor)
	assert.Equal(t, "u1", got.Actor.ID)

	require.NoError(t, s.RescheduleUnclaimed(ctx, "s1", later, &deletion.ActorRef{ID: "u2", Email: "new@example.com"}))
	got, err = s.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "u2", got.Actor.ID)

	claimed, err := s.ClaimSchedule(ctx, "s1")
	require.NoError(t, err)
	require.True(t, claimed)

	assert.ErrorIs(t, s.RescheduleUnclaimed(ctx, "s1", base, nil), deletion.ErrScheduleClaimed)
	assert.ErrorIs(t, s.RemoveUnclaimedSchedule(ctx, "s1"), deletion.ErrScheduleClaimed)

	require.NoError(t, s.DeleteSchedule(ctx, "s1"))
	require.NoError(t, s.DeleteSchedule(ctx, "s1"), "없는 예약 삭제는 에러가 아니어야 합니다")

	_, err = s.GetSchedule(ctx, "s1")
	assert.ErrorIs(t, err, deletion.ErrScheduleNotFound)
	assert.ErrorIs(t, s.RemoveUnclaimedSchedule(ctx, "s1"), deletion.ErrScheduleNotFound)
	assert.ErrorIs(t, s.RescheduleUnclaimed(ctx, "s1", base, nil), deletion.ErrScheduleNotFound)

	// 삭제 후에는 같은 대상으로 다시 예약할 수 있어야 합니다.
	require.NoError(t, s.CreateSchedule(ctx, newSchedule("s3", target, base)))
	require.NoError(t, s.RemoveUnclaimedSchedule(ctx, "s3"))
	_, err = s.FindScheduleByTarget(ctx, target)
	assert.ErrorIs(t, err, deletion.ErrScheduleNotFound)
}

func testListDueSchedules(t *testing.T, s deletion.Store) {
	ctx := context.Background()

	require.NoError(t, s.CreateSchedule(ctx, newSchedule("late", ref("repository", "3"), base.Add(2*time.Minute))))
	require.NoError(t, s.CreateSchedule(ctx, newSchedule("first", ref("repository", "1"), base)))
	require.NoError(t, s.CreateSchedule(ctx, newSchedule("second", ref("repository", "2"), base.Add(time.Minute))))
	require.NoError(t, s.CreateSchedule(ctx, newSchedule("future", ref("repository", "4"), base.Add(time.Hour))))

	due, err := s.ListDueSchedules(ctx, base.Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, "first", due[0].ID)
	assert.Equal(t, "second", due[1].ID)
	assert.Equal(t, "late", due[2].ID, "DueAt == now도 실행 대상이어야 합니다")

	due, err = s.ListDueSchedules(ctx, base.Add(2*time.Minute), 2)
	require.NoError(t, err)
	assert.Len(t, due, 2)

	claimed, err := s.ClaimSchedule(ctx, "first")
	require.NoError(t, err)
	require.True(t, claimed)

	due, err = s.ListDueSchedules(ctx, base.Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, due, 2, "선점된 예약은 제외되어야 합니다")
}

func testClaimIsExclusive(t *testing.T, s deletion.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateSchedule(ctx, newSchedule("s1", ref("repository", "1"), base)))

	const workers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.ClaimSchedule(ctx, "s1")
			assert.NoError(t, err)
			if claimed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())

	claimed, err := s.ClaimSchedule(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func testMarkers(t *testing.T, s deletion.Store) {
	ctx := context.Background()
	key := deletion.MarkerKey(ref("repository", "1"))

	_, ok, err := s.GetMarker(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutMarker(ctx, key, ""))
	require.NoError(t, s.PutMarker(ctx, key, "2026-01-01T00:00:00Z"))

	v, ok, err := s.GetMarker(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2026-01-01T00:00:00Z", v)

	require.NoError(t, s.DeleteMarker(ctx, key))
	require.NoError(t, s.DeleteMarker(ctx, key))

	_, ok, err = s.GetMarker(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testUpdate(t *testing.T, s deletion.Store) {
	ctx := context.Background()

	require.NoError(t, s.PutEntity(ctx, &deletion.Entity{Ref: ref("commit", "c1"), Status: deletion.StatusActive, Attrs: map[string]string{"repository_id": "1"}}))
	require.NoError(t, s.PutEntity(ctx, &deletion.Entity{Ref: ref("project", "p1"), Status: deletion.StatusActive, Attrs: map[string]string{"source_repository_id": "1", "name": "web"}}))

	errBoom := errors.New("boom")
	err := s.Update(ctx, func(tx deletion.Tx) error {
		require.NoError(t, tx.DeleteEntity(ref("commit", "c1")))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, err = s.GetEntity(ctx, ref("commit", "c1"))
	require.NoError(t, err, "실패한 트랜잭션의 변경은 반영되지 않아야 합니다")

	require.NoError(t, s.Update(ctx, func(tx deletion.Tx) error {
		if err := tx.DeleteEntity(ref("commit", "c1")); err != nil {
			return err
		}
		if err := tx.DeleteEntity(ref("commit", "missing")); err != nil {
			return err
		}
		if err := tx.ClearAttr(ref("project", "missing"), "source_repository_id"); err != nil {
			return err
		}
		return tx.ClearAttr(ref("project", "p1"), "source_repository_id")
	}))

	_, err = s.GetEntity(ctx, ref("commit", "c1"))
	assert.ErrorIs(t, err, deletion.ErrEntityNotFound)

	p, err := s.GetEntity(ctx, ref("project", "p1"))
	require.NoError(t, err)
	assert.Empty(t, p.Attr("source_repository_id"))
	assert.Equal(t, "web", p.Attr("name"))
}
