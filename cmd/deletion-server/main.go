package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/darkkaiser/deletion-server/internal/config"
	"github.com/darkkaiser/deletion-server/internal/pkg/version"
	applog "github.com/darkkaiser/deletion-server/pkg/log"
)

const banner = `
  ____       _      _   _               ____
 |  _ \  ___| | ___| |_(_) ___  _ __   / ___|  ___ _ ____   _____ _ __
 | | | |/ _ \ |/ _ \ __| |/ _ \| '_ \  \___ \ / _ \ '__\ \ / / _ \ '__|
 | |_| |  __/ |  __/ |_| | (_) | | | |  ___) |  __/ |   \ V /  __/ |
 |____/ \___|_|\___|\__|_|\___/|_| |_| |____/ \___|_|    \_/ \___|_|
                                                                %s
--------------------------------------------------------------------------------
`

func main() {
	// 1. 환경설정 로드 (로그 설정에 필요하므로 가장 먼저 수행한다)
	appConfig, err := config.Load()
	if err != nil {
		// 로거 초기화 전이므로 표준 에러에 출력
		fmt.Fprintf(os.Stderr, "[FATAL] 환경설정 로드 실패: %v\n", err)
		os.Exit(1)
	}

	// 2. 로그 시스템 초기화
	var logOpts applog.Options
	if appConfig.Debug {
		logOpts = applog.NewDevelopmentOptions(config.AppName)
	} else {
		logOpts = applog.NewProductionOptions(config.AppName)
	}

	appLogCloser, err := applog.Setup(logOpts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[FATAL] 로그 시스템 초기화 실패. 서버 구동을 중단합니다. (Cause: %v)\n", err)
		os.Exit(1)
	}
	defer appLogCloser.Close()

	applog.SetDebugMode(appConfig.Debug)

	buildInfo := version.Get()

	fmt.Printf(banner, buildInfo.Version)

	applog.WithComponentAndFields("main", applog.Fields{
		"version": buildInfo.String(),
		"env":     map[bool]string{true: "development", false: "production"}[appConfig.Debug],
	}).Info("서버 초기화 시작")

	for _, warning := range appConfig.VerifyRecommendations() {
		applog.WithComponent("main").Warn(warning)
	}

	if err := run(appConfig, buildInfo); err != nil {
		applog.WithComponentAndFields("main", applog.Fields{
			"error": err,
		}).Error("서버 구동 실패")

		_ = appLogCloser.Close()
		os.Exit(1)
	}
}

// run 서비스를 시작하고 종료 시그널을 받을 때까지 대기합니다.
func run(appConfig *config.AppConfig, buildInfo version.Info) error {
	app, err := newApplication(appConfig, buildInfo)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.store.Close(); err != nil {
			applog.WithComponentAndFields("main", applog.Fields{
				"error": err,
			}).Error("저장소 종료 실패")
		}
	}()

	serviceStopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serviceStopWG := &sync.WaitGroup{}

	for _, s := range app.services {
		serviceStopWG.Add(1)
		if err := s.Start(serviceStopCtx, serviceStopWG); err != nil {
			cancel() // 이미 시작된 서비스들도 종료
			serviceStopWG.Wait()

			return err
		}
	}

	termC := make(chan os.Signal, 1)
	signal.Notify(termC, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(termC)

	applog.WithComponent("main").Info("서버 가동 완료")

	<-termC

	applog.WithComponent("main").Info("종료 시그널 수신: 모든 서비스를 중지합니다")
	cancel()
	serviceStopWG.Wait()

	return nil
}
