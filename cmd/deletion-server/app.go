package main

import (
	"github.com/darkkaiser/deletion-server/internal/config"
	apperrors "github.com/darkkaiser/deletion-server/internal/pkg/errors"
	"github.com/darkkaiser/deletion-server/internal/pkg/version"
	"github.com/darkkaiser/deletion-server/internal/service"
	"github.com/darkkaiser/deletion-server/internal/service/api"
	"github.com/darkkaiser/deletion-server/internal/service/deletion"
	"github.com/darkkaiser/deletion-server/internal/service/deletion/provider/dummy"
	"github.com/darkkaiser/deletion-server/internal/service/deletion/schema"
	"github.com/darkkaiser/deletion-server/internal/service/deletion/store/memory"
	"github.com/darkkaiser/deletion-server/internal/service/deletion/store/sqlite"
	"github.com/darkkaiser/deletion-server/internal/service/notification/mail"
	"github.com/darkkaiser/deletion-server/internal/service/notification/telegram"
	"github.com/darkkaiser/deletion-server/internal/service/worker"
	applog "github.com/darkkaiser/deletion-server/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// application 설정으로부터 조립된 삭제 서버의 구성 요소입니다.
type application struct {
	store     deletion.Store
	scheduler *deletion.Scheduler
	executor  *deletion.Executor
	registry  *prometheus.Registry

	// services 시작 순서대로 나열된 서비스 목록
	services []service.Service
}

// newApplication 설정에 따라 저장소, 삭제 엔진, 알림 채널, 서비스를 생성하고 연결합니다.
//
// 실패하면 이미 열린 저장소를 닫고 에러를 반환합니다.
func newApplication(appConfig *config.AppConfig, buildInfo version.Info) (app *application, err error) {
	store, err := openStore(appConfig.Storage)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := deletion.NewMetrics(registry)

	graph := schema.NewRepositoryGraph()

	providers := deletion.NewProviderRegistry()
	if err = dummy.Register(providers); err != nil {
		return nil, err
	}

	resolver, err := deletion.NewResolver(store, graph)
	if err != nil {
		return nil, err
	}

	var sender deletion.MessageSender
	if appConfig.Mail.Enabled() {
		mailSender, mailErr := mail.New(appConfig.Mail)
		if mailErr != nil {
			return nil, mailErr
		}
		sender = mailSender
	}

	notifierOpts := []deletion.NotifierOption{deletion.WithNotifierMetrics(metrics)}

	var services []service.Service
	if appConfig.OpsAlert.Telegram.Enabled() {
		alerter, tgErr := telegram.New(appConfig.OpsAlert.Telegram.BotToken, appConfig.OpsAlert.Telegram.ChatID)
		if tgErr != nil {
			return nil, tgErr
		}
		notifierOpts = append(notifierOpts, deletion.WithOpsAlerter(alerter))
		services = append(services, alerter)
	}

	notifier := deletion.NewFailureNotifier(sender, graph, notifierOpts...)

	executor := deletion.NewExecutor(store, resolver, providers, notifier,
		deletion.WithBatchSize(appConfig.Deletion.BatchSize),
		deletion.WithExecutorMetrics(metrics),
	)

	scheduler := deletion.NewScheduler(store,
		deletion.WithDefaultDelay(appConfig.Deletion.DefaultDelay),
		deletion.WithSchedulerMetrics(metrics),
	)

	services = append(services,
		worker.NewService(appConfig.Deletion.SweepTimeSpec, executor),
		api.NewService(appConfig.HTTP, appConfig.Debug, registry, buildInfo),
	)

	return &application{
		store:     store,
		scheduler: scheduler,
		executor:  executor,
		registry:  registry,
		services:  services,
	}, nil
}

// openStore 설정된 드라이버의 저장소를 엽니다.
func openStore(cfg config.StorageConfig) (deletion.Store, error) {
	switch cfg.Driver {
	case config.StorageDriverMemory:
		applog.WithComponent("main").Warn("메모리 저장소를 사용합니다. 프로세스가 종료되면 삭제 예약 정보가 사라집니다")
		return memory.New(), nil

	case config.StorageDriverSQLite:
		return sqlite.Open(sqlite.Config{
			Path:        cfg.Path,
			BusyTimeout: cfg.BusyTimeout,
		})

	default:
		return nil, apperrors.Newf(apperrors.InvalidInput, "지원하지 않는 저장소 드라이버입니다: %q", cfg.Driver)
	}
}
