package deletion_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/darkkaiser/deletion-server/internal/service/deletion"
	"github.com/darkkaiser/deletion-server/internal/service/deletion/schema"
	"github.com/darkkaiser/deletion-server/internal/service/deletion/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var actor = &deletion.ActorRef{ID: "u1", Email: "actor@example.com"}

func bodyContains(s string) any {
	return mock.MatchedBy(func(body string) bool { return strings.Contains(body, s) })
}

func TestExecutor_DeletesRepositoryAndDependents(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	repo := f.put(t, schema.Repository, "1", map[string]string{"name": "example/example", "provider": "dummy"})
	c1 := f.put(t, schema.Commit, "c1", map[string]string{"repository_id": "1"})
	c2 := f.put(t, schema.Commit, "c2", map[string]string{"repository_id": "1"})
	cfg := f.put(t, schema.RepositoryProjectPathConfig, "10", map[string]string{"repository_id": "1"})
	owners := f.put(t, schema.ProjectCodeOwners, "o1", map[string]string{"repository_project_path_config_id": "10"})

	f.scheduleNow(t, repo, actor)

	summary := f.runDue(t)
	assert.Equal(t, deletion.RunSummary{Claimed: 1, Deleted: 1}, summary)

	for _, ref := range []deletion.EntityRef{repo, c1, c2, cfg, owners} {
		assert.False(t, f.exists(t, ref), "%s는 삭제되어야 합니다", ref)
	}
	assert.False(t, f.hasSchedule(t, repo))
	assert.False(t, f.hasMarker(t, repo))

	f.sender.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecutor_OnlyDeletesExactKeyMatches(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	repo := f.put(t, schema.Repository, "1", nil)
	mine := f.put(t, schema.Commit, "c1", map[string]string{"repository_id": "1", "key": "1234abcd"})

	// 다른 저장소에 속했지만 다른 속성 값이 겹치는 엔티티
	other := f.put(t, schema.Repository, "2", nil)
	theirs := f.put(t, schema.Commit, "c2", map[string]string{"repository_id": "2", "key": "1234abcd"})
	similar := f.put(t, schema.Commit, "c3", map[string]string{"repository_id": "11"})

	// 다른 저장소의 설정 ID가 삭제 대상 저장소 ID와 같은 경우
	myCfg := f.put(t, schema.RepositoryProjectPathConfig, "10", map[string]string{"repository_id": "1"})
	otherCfg := f.put(t, schema.RepositoryProjectPathConfig, "1", map[string]string{"repository_id": "2"})
	otherOwners := f.put(t, schema.ProjectCodeOwners, "o1", map[string]string{"repository_project_path_config_id": "1"})

	f.scheduleNow(t, repo, actor)
	f.runDue(t)

	assert.False(t, f.exists(t, repo))
	assert.False(t, f.exists(t, mine))
	assert.False(t, f.exists(t, myCfg))

	for _, ref := range []deletion.EntityRef{other, theirs, similar, otherCfg, otherOwners} {
		assert.True(t, f.exists(t, ref), "%s는 남아 있어야 합니다", ref)
	}
}

func TestExecutor_DetachesSoftDependents(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	repo := f.put(t, schema.Repository, "1", nil)
	project := f.put(t, schema.Project, "p1", map[string]string{"source_repository_id": "1", "name": "web"})
	unrelated := f.put(t, schema.Project, "p2", map[string]string{"source_repository_id": "2"})

	f.scheduleNow(t, repo, actor)
	f.runDue(t)

	assert.False(t, f.exists(t, repo))

	p := f.entity(t, project)
	assert.Empty(t, p.Attr("source_repository_id"))
	assert.Equal(t, "web", p.Attr("name"))
	assert.Equal(t, deletion.StatusActive, p.Status)

	assert.Equal(t, "2", f.entity(t, unrelated).Attr("source_repository_id"))
}

func TestExecutor_SkipsEntityRevertedToActive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	repo := f.put(t, schema.Repository, "1", nil)
	commit := f.put(t, schema.Commit, "c1", map[string]string{"repository_id": "1"})

	f.scheduleNow(t, repo, actor)
	require.NoError(t, f.store.SetStatus(ctx, repo, deletion.StatusActive))

	summary := f.runDue(t)
	assert.Equal(t, deletion.RunSummary{Claimed: 1, Skipped: 1}, summary)

	assert.True(t, f.exists(t, repo))
	assert.True(t, f.exists(t, commit))
	assert.False(t, f.hasSchedule(t, repo))
	f.sender.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecutor_SkipsMissingEntity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	repo := f.put(t, schema.Repository, "1", nil)

	f.scheduleNow(t, repo, actor)
	require.NoError(t, f.store.Update(ctx, func(tx deletion.Tx) error { return tx.DeleteEntity(repo) }))

	summary := f.runDue(t)
	assert.Equal(t, deletion.RunSummary{Claimed: 1, Skipped: 1}, summary)
	assert.False(t, f.hasSchedule(t, repo))
	assert.False(t, f.hasMarker(t, repo))
}

func TestExecutor_ProviderErrorIsReportedVerbatim(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	provider := &countingProvider{err: deletion.NewProviderError("github", "foo")}
	require.NoError(t, f.registry.Register("github", provider))

	repo := f.put(t, schema.Repository, "1", map[string]string{"name": "example/example", "provider": "github"})
	commit := f.put(t, schema.Commit, "c1", map[string]string{"repository_id": "1"})

	f.sender.On("SendMessage", mock.Anything, "actor@example.com", "Unable to Delete Repository Webhooks",
		mock.MatchedBy(func(body string) bool {
			return strings.Contains(body, "foo") &&
				strings.Contains(body, "repository 'example/example'") &&
				!strings.Contains(body, "unexpected error")
		})).Return(nil).Once()

	f.scheduleNow(t, repo, actor)
	summary := f.runDue(t)

	assert.Equal(t, deletion.RunSummary{Claimed: 1, Deleted: 1, Failed: 1}, summary)
	assert.Equal(t, int32(1), provider.calls.Load())
	assert.False(t, f.exists(t, repo), "정리 작업이 실패해도 루트는 삭제되어야 합니다")
	assert.False(t, f.exists(t, commit))
	assert.False(t, f.hasSchedule(t, repo))
}

func TestExecutor_UnexpectedErrorIsNotLeaked(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.registry.Register("github", &countingProvider{err: errors.New("secrets")}))

	repo := f.put(t, schema.Repository, "1", map[string]string{"provider": "github"})

	f.sender.On("SendMessage", mock.Anything, "actor@example.com", "Unable to Delete Repository Webhooks",
		mock.MatchedBy(func(body string) bool {
			return !strings.Contains(body, "secrets") && strings.Contains(body, "unexpected error")
		})).Return(nil).Once()

	f.scheduleNow(t, repo, actor)
	f.runDue(t)

	assert.False(t, f.exists(t, repo))
}

func TestExecutor_NilProviderErrorIsUnexpected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	var perr *deletion.ProviderError
	require.NoError(t, f.registry.Register("github", &countingProvider{err: perr}))

	repo := f.put(t, schema.Repository, "1", map[string]string{"provider": "github"})

	f.sender.On("SendMessage", mock.Anything, "actor@example.com", "Unable to Delete Repository Webhooks", bodyContains("unexpected error")).Return(nil).Once()

	f.scheduleNow(t, repo, actor)
	summary := f.runDue(t)

	assert.Equal(t, deletion.RunSummary{Claimed: 1, Deleted: 1, Failed: 1}, summary)
	assert.False(t, f.exists(t, repo))
	f.sender.AssertExpectations(t)
}

func TestExecutor_ProviderPanicIsRecovered(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.registry.Register("github", deletion.ProviderFunc(func(context.Context, *deletion.Entity) error {
		panic("token=secrets")
	})))

	repo := f.put(t, schema.Repository, "1", map[string]string{"provider": "github"})

	f.sender.On("SendMessage", mock.Anything, "actor@example.com", mock.Anything,
		mock.MatchedBy(func(body string) bool { return !strings.Contains(body, "secrets") })).Return(nil).Once()

	f.scheduleNow(t, repo, actor)
	summary := f.runDue(t)

	assert.Equal(t, 1, summary.Deleted)
	assert.False(t, f.exists(t, repo))
}

func TestExecutor_UnknownProviderIsUnexpected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	repo := f.put(t, schema.Repository, "1", map[string]string{"provider": "gitlab"})

	f.sender.On("SendMessage", mock.Anything, "actor@example.com", mock.Anything, bodyContains("unexpected error")).Return(nil).Once()

	f.scheduleNow(t, repo, actor)
	f.runDue(t)

	assert.False(t, f.exists(t, repo))
}

func TestExecutor_FallsBackToOwner(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.registry.Register("github", &countingProvider{err: deletion.NewProviderError("github", "foo")}))

	owner := &deletion.ActorRef{ID: "owner", Email: "owner@example.com"}
	repo := f.putWithOwner(t, schema.Repository, "1", owner, map[string]string{"provider": "github"})

	f.sender.On("SendMessage", mock.Anything, "owner@example.com", mock.Anything, bodyContains("foo")).Return(nil).Once()

	f.scheduleNow(t, repo, nil)
	f.runDue(t)
}

func TestExecutor_NoActorNoMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.registry.Register("github", &countingProvider{err: deletion.NewProviderError("github", "foo")}))

	repo := f.put(t, schema.Repository, "1", map[string]string{"provider": "github"})

	f.scheduleNow(t, repo, nil)
	summary := f.runDue(t)

	assert.Equal(t, 1, summary.Failed)
	assert.False(t, f.exists(t, repo))
	f.sender.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecutor_StaleMarkerDoesNotBlock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	repo := f.put(t, schema.Repository, "1", nil)

	// 이전에 중단된 실행이 남긴 마커
	require.NoError(t, f.store.PutMarker(ctx, deletion.MarkerKey(repo), "2025-12-31T00:00:00Z"))

	f.scheduleNow(t, repo, actor)
	summary := f.runDue(t)

	assert.Equal(t, deletion.RunSummary{Claimed: 1, Deleted: 1}, summary)
	assert.False(t, f.exists(t, repo))
	assert.False(t, f.hasMarker(t, repo))
}

func TestExecutor_ConcurrentRunsDeleteOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	provider := &countingProvider{}
	require.NoError(t, f.registry.Register("github", provider))

	repo := f.put(t, schema.Repository, "1", map[string]string{"provider": "github"})
	f.put(t, schema.Commit, "c1", map[string]string{"repository_id": "1"})
	f.scheduleNow(t, repo, actor)

	resolver, err := deletion.NewResolver(f.store, f.graph)
	require.NoError(t, err)

	const workers = 4
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		summaries []deletion.RunSummary
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			executor := deletion.NewExecutor(f.store, resolver, f.registry, deletion.NewFailureNotifier(f.sender, f.graph))
			summary, err := executor.RunDue(context.Background(), f.clock.Now())
			assert.NoError(t, err)

			mu.Lock()
			summaries = append(summaries, summary)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var total deletion.RunSummary
	for _, s := range summaries {
		total.Claimed += s.Claimed
		total.Deleted += s.Deleted
		total.Failed += s.Failed
	}
	assert.Equal(t, 1, total.Claimed)
	assert.Equal(t, 1, total.Deleted)
	assert.Zero(t, total.Failed)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestExecutor_NotDueYet(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	repo := f.put(t, schema.Repository, "1", nil)

	_, err := f.scheduler.Schedule(context.Background(), repo, actor, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, deletion.RunSummary{}, f.runDue(t))
	assert.True(t, f.exists(t, repo))

	f.clock.Advance(time.Hour)

	assert.Equal(t, 1, f.runDue(t).Deleted)
	assert.False(t, f.exists(t, repo))
}

func TestExecutor_BatchSize(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	resolver, err := deletion.NewResolver(f.store, f.graph)
	require.NoError(t, err)
	executor := deletion.NewExecutor(f.store, resolver, f.registry, deletion.NewFailureNotifier(f.sender, f.graph), deletion.WithBatchSize(2))

	for _, id := range []string{"1", "2", "3"} {
		f.scheduleNow(t, f.put(t, schema.Repository, id, nil), nil)
	}

	summary, err := executor.RunDue(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Deleted)

	summary, err = executor.RunDue(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)
}

// failingStore 지정한 연산을 실패시키는 저장소입니다.
type failingStore struct {
	deletion.Store

	findErr   error
	updateErr error

	// updateErrOnce 다음 Update 한 번만 실패시킵니다.
	updateErrOnce error
}

func (s *failingStore) FindEntities(ctx context.Context, typ deletion.EntityType, key, value string) ([]*deletion.Entity, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.Store.FindEntities(ctx, typ, key, value)
}

func (s *failingStore) Update(ctx context.Context, fn func(tx deletion.Tx) error) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	if err := s.updateErrOnce; err != nil {
		s.updateErrOnce = nil
		return err
	}
	return s.Store.Update(ctx, fn)
}

func TestExecutor_PlanFailureDeletesNothing(t *testing.T) {
	t.Parallel()

	store := &failingStore{Store: memory.New()}
	f := newFixture(t, store)

	repo := f.put(t, schema.Repository, "1", map[string]string{"name": "example/example"})
	commit := f.put(t, schema.Commit, "c1", map[string]string{"repository_id": "1"})
	f.scheduleNow(t, repo, actor)

	store.findErr = errors.New("connection reset by peer: password=secrets")
	f.sender.On("SendMessage", mock.Anything, "actor@example.com", "Unable to Delete Repository Webhooks",
		mock.MatchedBy(func(body string) bool {
			return !strings.Contains(body, "secrets") && strings.Contains(body, "unexpected error")
		})).Return(nil).Once()

	summary := f.runDue(t)
	assert.Equal(t, deletion.RunSummary{Claimed: 1, Failed: 1}, summary)

	assert.True(t, f.exists(t, commit))
	assert.Equal(t, deletion.StatusPendingDeletion, f.entity(t, repo).Status, "아무것도 삭제하지 않았다면 삭제 대기 상태로 남아야 합니다")
	assert.False(t, f.hasSchedule(t, repo))
}

func TestExecutor_TransactionFailureIsReported(t *testing.T) {
	t.Parallel()

	store := &failingStore{Store: memory.New()}
	f := newFixture(t, store)

	repo := f.put(t, schema.Repository, "1", nil)
	f.put(t, schema.Commit, "c1", map[string]string{"repository_id": "1"})
	f.scheduleNow(t, repo, actor)

	store.updateErr = errors.New("database is locked")
	f.sender.On("SendMessage", mock.Anything, "actor@example.com", mock.Anything, bodyContains("unexpected error")).Return(nil).Once()

	summary := f.runDue(t)
	assert.Equal(t, deletion.RunSummary{Claimed: 1, Failed: 1}, summary)
	assert.True(t, f.exists(t, repo))
	assert.False(t, f.hasSchedule(t, repo), "실패한 예약도 제거되어야 합니다")
}

func TestExecutor_DependentTransactionFailureKeepsRoot(t *testing.T) {
	t.Parallel()

	store := &failingStore{Store: memory.New()}
	f := newFixture(t, store)
	provider := &countingProvider{}
	require.NoError(t, f.registry.Register("github", provider))

	repo := f.put(t, schema.Repository, "1", map[string]string{"name": "example/example", "provider": "github"})
	commit := f.put(t, schema.Commit, "c1", map[string]string{"repository_id": "1"})
	f.scheduleNow(t, repo, actor)

	// 하위 엔티티(Commit) 삭제 트랜잭션만 실패합니다.
	store.updateErrOnce = errors.New("database is locked")
	f.sender.On("SendMessage", mock.Anything, "actor@example.com", "Unable to Delete Repository Webhooks", bodyContains("unexpected error")).Return(nil).Once()

	summary := f.runDue(t)
	assert.Equal(t, deletion.RunSummary{Claimed: 1, Failed: 1}, summary)
	assert.True(t, f.exists(t, commit))
	require.True(t, f.exists(t, repo), "하위 엔티티가 남아 있으면 루트를 삭제하지 않아야 합니다")
	assert.Equal(t, deletion.StatusPendingDeletion, f.entity(t, repo).Status)
	assert.Zero(t, provider.calls.Load(), "루트의 외부 리소스도 정리하지 않아야 합니다")
	assert.False(t, f.hasSchedule(t, repo))
	f.sender.AssertExpectations(t)

	// 다시 예약하면 남은 하위 엔티티까지 삭제됩니다.
	f.scheduleNow(t, repo, actor)
	summary = f.runDue(t)
	assert.Equal(t, deletion.RunSummary{Claimed: 1, Deleted: 1}, summary)
	assert.False(t, f.exists(t, repo))
	assert.False(t, f.exists(t, commit))
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestExecutor_NotificationFailureDoesNotAbortRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.registry.Register("github", &countingProvider{err: deletion.NewProviderError("github", "foo")}))

	repo1 := f.put(t, schema.Repository, "1", map[string]string{"provider": "github"})
	repo2 := f.put(t, schema.Repository, "2", nil)

	f.sender.On("SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smtp: 421")).Once()

	f.scheduleNow(t, repo1, actor)
	f.scheduleNow(t, repo2, actor)

	summary := f.runDue(t)
	assert.Equal(t, 2, summary.Deleted)
	assert.False(t, f.exists(t, repo1))
	assert.False(t, f.exists(t, repo2))
}

func TestExecutor_CanceledContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.scheduleNow(t, f.put(t, schema.Repository, "1", nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.executor.RunDue(ctx, f.clock.Now())
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Claimed)
}
