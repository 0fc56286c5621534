// Package api 헬스체크, 버전 정보, Prometheus 지표를 제공하는 HTTP 서비스를 구현합니다.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/darkkaiser/deletion-server/internal/config"
	"github.com/darkkaiser/deletion-server/internal/pkg/version"
	"github.com/darkkaiser/deletion-server/internal/service/api/constants"
	"github.com/darkkaiser/deletion-server/internal/service/api/handler/system"
	applog "github.com/darkkaiser/deletion-server/pkg/log"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// Service HTTP 서버의 생명주기를 관리합니다.
//
// Start로 시작하고, serviceStopCtx 취소 시 Graceful Shutdown(최대 5초)을 수행합니다.
type Service struct {
	httpConfig config.HTTPConfig
	debug      bool

	gatherer  prometheus.Gatherer
	buildInfo version.Info

	// listener 테스트에서 임의 포트로 서버를 띄우기 위해 주입합니다. nil이면 ListenPort로 바인딩합니다.
	listener net.Listener

	running   bool
	runningMu sync.Mutex
}

// NewService Service 인스턴스를 생성합니다. gatherer가 nil이면 /metrics를 제공하지 않습니다.
func NewService(httpConfig config.HTTPConfig, debug bool, gatherer prometheus.Gatherer, buildInfo version.Info) *Service {
	return &Service{
		httpConfig: httpConfig,
		debug:      debug,

		gatherer:  gatherer,
		buildInfo: buildInfo,
	}
}

// Start HTTP 서버를 별도 고루틴에서 시작합니다. 이 함수는 즉시 반환됩니다.
func (s *Service) Start(serviceStopCtx context.Context, serviceStopWG *sync.WaitGroup) error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	applog.WithComponent(constants.ComponentService).Info("API 서비스 시작 진입: HTTP 서버 초기화 프로세스를 시작합니다")

	if s.running {
		defer serviceStopWG.Done()
		applog.WithComponent(constants.ComponentService).Warn("API 서비스가 이미 실행 중입니다 (중복 호출)")
		return nil
	}

	s.running = true

	go s.runServiceLoop(serviceStopCtx, serviceStopWG)

	return nil
}

func (s *Service) runServiceLoop(serviceStopCtx context.Context, serviceStopWG *sync.WaitGroup) {
	defer serviceStopWG.Done()

	e := s.setupServer()

	httpServerDone := make(chan struct{})
	go s.startHTTPServer(e, httpServerDone)

	s.waitForShutdown(serviceStopCtx, e, httpServerDone)
}

func (s *Service) setupServer() *echo.Echo {
	e := NewHTTPServer(HTTPServerConfig{
		Debug: s.debug,
	})

	RegisterRoutes(e, system.New(s.buildInfo), s.gatherer)

	return e
}

// startHTTPServer 서버가 종료될 때까지 블로킹되며, 종료되면 done 채널을 닫습니다.
func (s *Service) startHTTPServer(e *echo.Echo, done chan struct{}) {
	defer close(done)

	applog.WithComponentAndFields(constants.ComponentService, applog.Fields{
		"port": s.httpConfig.ListenPort,
	}).Info("서비스 시작 완료: HTTP 서버가 요청을 수신합니다")

	var err error
	if s.listener != nil {
		e.Listener = s.listener
		err = e.Start("")
	} else {
		err = e.Start(fmt.Sprintf(":%d", s.httpConfig.ListenPort))
	}

	s.handleServerError(err)
}

func (s *Service) handleServerError(err error) {
	if err == nil {
		return
	}

	if errors.Is(err, http.ErrServerClosed) {
		applog.WithComponent(constants.ComponentService).Info("HTTP 서버 종료 완료")
		return
	}

	applog.WithComponentAndFields(constants.ComponentService, applog.Fields{
		"port":  s.httpConfig.ListenPort,
		"error": err,
	}).Error("HTTP 서버 구동 실패: 예기치 않은 에러가 발생했습니다")
}

// waitForShutdown 종료 신호를 대기하고 Graceful Shutdown을 수행합니다. 서버가 먼저 종료되면(포트 바인딩 실패 등) 상태만 정리합니다.
func (s *Service) waitForShutdown(serviceStopCtx context.Context, e *echo.Echo, httpServerDone chan struct{}) {
	select {
	case <-serviceStopCtx.Done():
		applog.WithComponent(constants.ComponentService).Info("종료 절차 진입: API 서비스 중지 시그널을 수신했습니다")

	case <-httpServerDone:
		applog.WithComponent(constants.ComponentService).Error("HTTP 서버가 예기치 않게 종료되었습니다")
		s.cleanup()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		applog.WithComponentAndFields(constants.ComponentService, applog.Fields{
			"error": err,
		}).Error("HTTP 서버 Graceful Shutdown 실패")
	}

	<-httpServerDone

	s.cleanup()
}

func (s *Service) cleanup() {
	s.runningMu.Lock()
	s.running = false
	s.runningMu.Unlock()

	applog.WithComponent(constants.ComponentService).Info("API 서비스 종료 완료")
}
