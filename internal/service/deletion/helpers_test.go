package deletion_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/darkkaiser/deletion-server/internal/service/deletion"
	"github.com/darkkaiser/deletion-server/internal/service/deletion/provider/dummy"
	"github.com/darkkaiser/deletion-server/internal/service/deletion/schema"
	"github.com/darkkaiser/deletion-server/internal/service/deletion/store/memory"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// mockSender deletion.MessageSender의 Mock 구현체입니다.
type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendMessage(ctx context.Context, recipient, subject, body string) error {
	args := m.Called(ctx, recipient, subject, body)
	return args.Error(0)
}

// countingProvider 호출 횟수를 세고 지정한 에러를 반환하는 Provider입니다.
type countingProvider struct {
	calls atomic.Int32
	err   error
}

func (p *countingProvider) DeleteExternalResource(_ context.Context, _ *deletion.Entity) error {
	p.calls.Add(1)
	return p.err
}

type fixture struct {
	store     deletion.Store
	clock     *testclock.Clock
	graph     *deletion.Graph
	registry  *deletion.ProviderRegistry
	sender    *mockSender
	scheduler *deletion.Scheduler
	executor  *deletion.Executor
}

// newFixture 저장소 기본 스키마를 사용하는 Scheduler/Executor를 구성합니다. store가 nil이면 메모리 저장소를 사용합니다.
func newFixture(t *testing.T, store deletion.Store) *fixture {
	t.Helper()

	if store == nil {
		store = memory.New()
	}

	f := &fixture{
		store:    store,
		clock:    testclock.NewClock(epoch),
		graph:    schema.NewRepositoryGraph(),
		registry: deletion.NewProviderRegistry(),
		sender:   &mockSender{},
	}
	require.NoError(t, dummy.Register(f.registry))

	resolver, err := deletion.NewResolver(f.store, f.graph)
	require.NoError(t, err)

	f.scheduler = deletion.NewScheduler(f.store, deletion.WithSchedulerClock(f.clock))
	f.executor = deletion.NewExecutor(f.store, resolver, f.registry, deletion.NewFailureNotifier(f.sender, f.graph))

	t.Cleanup(func() { f.sender.AssertExpectations(t) })

	return f
}

func (f *fixture) put(t *testing.T, typ deletion.EntityType, id string, attrs map[string]string) deletion.EntityRef {
	t.Helper()

	ref := deletion.EntityRef{Type: typ, ID: id}
	require.NoError(t, f.store.PutEntity(context.Background(), &deletion.Entity{Ref: ref, Status: deletion.StatusActive, Attrs: attrs}))
	return ref
}

func (f *fixture) putWithOwner(t *testing.T, typ deletion.EntityType, id string, owner *deletion.ActorRef, attrs map[string]string) deletion.EntityRef {
	t.Helper()

	ref := deletion.EntityRef{Type: typ, ID: id}
	require.NoError(t, f.store.PutEntity(context.Background(), &deletion.Entity{Ref: ref, Status: deletion.StatusActive, Owner: owner, Attrs: attrs}))
	return ref
}

// scheduleNow 지연 없이 삭제를 예약합니다.
func (f *fixture) scheduleNow(t *testing.T, ref deletion.EntityRef, actor *deletion.ActorRef) *deletion.ScheduledDeletion {
	t.Helper()

	sd, err := f.scheduler.Schedule(context.Background(), ref, actor, 0)
	require.NoError(t, err)
	return sd
}

func (f *fixture) runDue(t *testing.T) deletion.RunSummary {
	t.Helper()

	summary, err := f.executor.RunDue(context.Background(), f.clock.Now())
	require.NoError(t, err)
	return summary
}

func (f *fixture) exists(t *testing.T, ref deletion.EntityRef) bool {
	t.Helper()

	_, err := f.store.GetEntity(context.Background(), ref)
	if err == nil {
		return true
	}
	require.ErrorIs(t, err, deletion.ErrEntityNotFound)
	return false
}

func (f *fixture) entity(t *testing.T, ref deletion.EntityRef) *deletion.Entity {
	t.Helper()

	e, err := f.store.GetEntity(context.Background(), ref)
	require.NoError(t, err)
	return e
}

func (f *fixture) hasMarker(t *testing.T, ref deletion.EntityRef) bool {
	t.Helper()

	_, ok, err := f.store.GetMarker(context.Background(), deletion.MarkerKey(ref))
	require.NoError(t, err)
	return ok
}

func (f *fixture) hasSchedule(t *testing.T, ref deletion.EntityRef) bool {
	t.Helper()

	_, err := f.store.FindScheduleByTarget(context.Background(), ref)
	if err == nil {
		return true
	}
	require.ErrorIs(t, err, deletion.ErrScheduleNotFound)
	return false
}
