// Package worker 실행 시각이 된 삭제 예약을 주기적으로 처리하는 서비스를 제공합니다.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/darkkaiser/deletion-server/internal/service/deletion"
	"github.com/darkkaiser/deletion-server/pkg/cronx"
	applog "github.com/darkkaiser/deletion-server/pkg/log"
	"github.com/juju/clock"
	"github.com/robfig/cron/v3"
)

// component Worker 서비스의 로깅용 컴포넌트 이름
const component = "worker.service"

// Executor 실행 시각이 된 삭제 예약을 처리합니다. *deletion.Executor가 구현합니다.
type Executor interface {
	RunDue(ctx context.Context, now time.Time) (deletion.RunSummary, error)
}

// Service 설정된 Cron 주기마다 Executor.RunDue를 호출하는 서비스입니다.
type Service struct {
	timeSpec string

	executor Executor
	clock    clock.Clock

	cron *cron.Cron

	running   bool
	runningMu sync.Mutex
}

// Option Service의 선택 설정입니다.
type Option func(*Service)

// WithClock 스윕 기준 시각을 제공할 Clock을 지정합니다.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// NewService 새로운 Worker 서비스 인스턴스를 생성합니다.
func NewService(timeSpec string, executor Executor, opts ...Option) *Service {
	if executor == nil {
		panic("Executor는 필수입니다")
	}

	s := &Service{
		timeSpec: timeSpec,
		executor: executor,
		clock:    clock.WallClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start Cron 엔진에 스윕 작업을 등록하고 시작합니다.
func (s *Service) Start(serviceStopCtx context.Context, serviceStopWG *sync.WaitGroup) error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	applog.WithComponent(component).Info("서비스 시작 진입: Worker 서비스 초기화 프로세스를 시작합니다")

	if s.executor == nil {
		serviceStopWG.Done()
		return ErrExecutorNotInitialized
	}

	if s.running {
		serviceStopWG.Done()
		applog.WithComponent(component).Warn("Worker 서비스가 이미 실행 중입니다 (중복 호출)")
		return nil
	}

	// 1. Cron 엔진 초기화
	// - SkipIfStillRunning: 이전 스윕이 끝나지 않았으면 이번 주기는 건너뜀
	s.cron = cron.New(
		cron.WithParser(cronx.StandardParser()),
		cron.WithLogger(cron.VerbosePrintfLogger(applog.StandardLogger())),
		cron.WithChain(
			cron.Recover(cron.VerbosePrintfLogger(applog.StandardLogger())),
			cron.SkipIfStillRunning(cron.VerbosePrintfLogger(applog.StandardLogger())),
		),
	)

	// 2. 스윕 작업 등록
	if _, err := s.cron.AddFunc(s.timeSpec, func() { s.sweep(serviceStopCtx) }); err != nil {
		s.cron = nil
		serviceStopWG.Done()
		return newErrInvalidCronSpec(s.timeSpec, err)
	}

	// 3. 스케줄러 시작
	s.cron.Start()
	s.running = true

	applog.WithComponentAndFields(component, applog.Fields{
		"time_spec": s.timeSpec,
	}).Info("서비스 시작 완료: Worker 서비스가 정상적으로 초기화되었습니다")

	// 4. 종료 신호 대기
	go func() {
		defer serviceStopWG.Done()

		<-serviceStopCtx.Done()

		s.Stop()
	}()

	return nil
}

// Stop 실행 중인 스윕이 끝날 때까지 기다린 뒤 Cron 엔진을 중지합니다.
func (s *Service) Stop() {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if !s.running {
		return
	}

	applog.WithComponent(component).Info("종료 절차 진입: Worker 서비스 중지 시그널을 수신했습니다")

	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}

	s.cron = nil
	s.running = false

	applog.WithComponent(component).Info("Worker 서비스 종료 완료: 모든 리소스가 정리되었습니다")
}

// sweep Executor를 한 번 실행하고 결과를 기록합니다.
//
// 서비스 종료 시그널과 분리된 컨텍스트로 RunDue를 호출하므로, 종료 중에 시작된 스윕이라도 조회한 예약 묶음 전체를 처리합니다.
// 종료 시에는 cron.Stop()이 진행 중인 스윕의 완료를 기다립니다. 종료 시그널은 새 스윕의 시작만 막습니다.
func (s *Service) sweep(serviceStopCtx context.Context) {
	if serviceStopCtx.Err() != nil {
		return
	}

	startedAt := s.clock.Now()

	summary, err := s.executor.RunDue(context.WithoutCancel(serviceStopCtx), startedAt)

	fields := applog.Fields{
		"claimed": summary.Claimed,
		"deleted": summary.Deleted,
		"skipped": summary.Skipped,
		"failed":  summary.Failed,
		"elapsed": s.clock.Now().Sub(startedAt).String(),
	}

	if err != nil {
		applog.WithComponentAndFields(component, fields).WithError(err).Error("삭제 예약 스윕에 실패했습니다")
		return
	}

	if summary == (deletion.RunSummary{}) {
		applog.WithComponent(component).Trace("실행할 삭제 예약이 없습니다")
		return
	}

	logger := applog.WithComponentAndFields(component, fields)
	if summary.Failed > 0 {
		logger.Warn("삭제 예약 스윕 완료 (일부 실패)")
	} else {
		logger.Info("삭제 예약 스윕 완료")
	}
}
