package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/darkkaiser/deletion-server/internal/pkg/errors"
	"github.com/darkkaiser/deletion-server/internal/service"
	"github.com/darkkaiser/deletion-server/internal/service/deletion"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var _ service.Service = (*Service)(nil)

// TestMain runs tests and checks for goroutine leaks.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) RunDue(ctx context.Context, now time.Time) (deletion.RunSummary, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(deletion.RunSummary), args.Error(1)
}

func TestNewService(t *testing.T) {
	assert.PanicsWithValue(t, "Executor는 필수입니다", func() {
		NewService("@every 1s", nil)
	})

	s := NewService("@every 1s", &mockExecutor{})
	assert.Equal(t, "@every 1s", s.timeSpec)
	assert.False(t, s.running)
}

func TestService_StartAndStop(t *testing.T) {
	executor := &mockExecutor{}
	called := make(chan struct{}, 1)
	executor.On("RunDue", mock.Anything, mock.AnythingOfType("time.Time")).
		Run(func(mock.Arguments) {
			select {
			case called <- struct{}{}:
			default:
			}
		}).
		Return(deletion.RunSummary{Claimed: 1, Deleted: 1}, nil)

	s := NewService("* * * * * *", executor)

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	wg.Add(1)
	require.NoError(t, s.Start(ctx, wg))
	assert.True(t, s.running)

	select {
	case <-called:
	case <-time.After(3 * time.Second):
		t.Fatal("스윕이 실행되지 않았습니다")
	}

	cancel()
	wg.Wait()

	assert.False(t, s.running)
	assert.Nil(t, s.cron)
}

func TestService_DoubleStart(t *testing.T) {
	s := NewService("@every 1h", &mockExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}

	wg.Add(1)
	require.NoError(t, s.Start(ctx, wg))

	wg.Add(1)
	require.NoError(t, s.Start(ctx, wg), "중복 호출은 에러 없이 무시되어야 합니다")

	cancel()
	wg.Wait()
}

func TestService_InvalidTimeSpec(t *testing.T) {
	s := NewService("every minute", &mockExecutor{})

	wg := &sync.WaitGroup{}
	wg.Add(1)
	err := s.Start(context.Background(), wg)

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.InvalidInput))
	assert.Contains(t, err.Error(), "every minute")
	assert.False(t, s.running)

	wg.Wait()
}

func TestService_StopWithoutStart(t *testing.T) {
	s := NewService("@every 1h", &mockExecutor{})
	assert.NotPanics(t, s.Stop)
}

func TestService_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	t.Run("현재 시각을 기준으로 실행한다", func(t *testing.T) {
		executor := &mockExecutor{}
		executor.On("RunDue", mock.Anything, now).Return(deletion.RunSummary{Claimed: 2, Deleted: 1, Failed: 1}, nil).Once()

		s := NewService("@every 1h", executor, WithClock(testclock.NewClock(now)))
		s.sweep(context.Background())

		executor.AssertExpectations(t)
	})

	t.Run("실행 에러는 로그로만 남긴다", func(t *testing.T) {
		executor := &mockExecutor{}
		executor.On("RunDue", mock.Anything, now).Return(deletion.RunSummary{}, errors.New("database is locked")).Once()

		s := NewService("@every 1h", executor, WithClock(testclock.NewClock(now)))
		assert.NotPanics(t, func() { s.sweep(context.Background()) })

		executor.AssertExpectations(t)
	})

	t.Run("종료 중에는 실행하지 않는다", func(t *testing.T) {
		executor := &mockExecutor{}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		NewService("@every 1h", executor).sweep(ctx)

		executor.AssertNotCalled(t, "RunDue", mock.Anything, mock.Anything)
	})

	t.Run("서비스 종료와 분리된 컨텍스트를 전달한다", func(t *testing.T) {
		executor := &mockExecutor{}
		executor.On("RunDue", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Done() == nil }), now).
			Return(deletion.RunSummary{}, nil).Once()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		NewService("@every 1h", executor, WithClock(testclock.NewClock(now))).sweep(ctx)

		executor.AssertExpectations(t)
	})

	t.Run("실행 중 서비스가 종료되어도 컨텍스트는 취소되지 않는다", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var runCtxErr error
		executor := &mockExecutor{}
		executor.On("RunDue", mock.Anything, now).
			Run(func(args mock.Arguments) {
				cancel()
				runCtxErr = args.Get(0).(context.Context).Err()
			}).
			Return(deletion.RunSummary{Claimed: 3, Deleted: 3}, nil).Once()

		NewService("@every 1h", executor, WithClock(testclock.NewClock(now))).sweep(ctx)

		executor.AssertExpectations(t)
		assert.NoError(t, runCtxErr, "이미 시작한 스윕은 조회한 예약 묶음을 모두 처리해야 합니다")
	})
}
