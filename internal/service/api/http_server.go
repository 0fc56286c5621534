package api

import (
	"github.com/darkkaiser/deletion-server/internal/service/api/constants"
	"github.com/darkkaiser/deletion-server/internal/service/api/httputil"
	appmiddleware "github.com/darkkaiser/deletion-server/internal/service/api/middleware"
	applog "github.com/darkkaiser/deletion-server/pkg/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// HTTPServerConfig HTTP 서버 생성에 필요한 설정을 정의합니다.
type HTTPServerConfig struct {
	// Debug Echo 프레임워크의 디버그 모드 활성화 여부
	Debug bool
}

// NewHTTPServer 미들웨어가 적용된 Echo 인스턴스를 생성합니다.
//
// 미들웨어 적용 순서:
//  1. PanicRecovery: 이후 미들웨어의 panic까지 복구하기 위해 가장 먼저 적용합니다.
//  2. RequestID: 로그에 request_id를 남기기 위해 로깅보다 먼저 적용합니다.
//  3. Server 헤더 제거
//  4. HTTPLogger: 429 응답도 기록되도록 RateLimiting보다 먼저 적용합니다.
//  5. RateLimiting
//  6. BodyLimit
//  7. Secure
//
// 라우트는 포함되지 않으므로 RegisterRoutes로 별도 등록해야 합니다.
func NewHTTPServer(cfg HTTPServerConfig) *echo.Echo {
	e := echo.New()

	e.Debug = cfg.Debug
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = constants.DefaultReadTimeout
	e.Server.ReadHeaderTimeout = constants.DefaultReadHeaderTimeout
	e.Server.WriteTimeout = constants.DefaultWriteTimeout
	e.Server.IdleTimeout = constants.DefaultIdleTimeout

	// Echo 내부 로그를 애플리케이션 로거로 통합합니다.
	e.Logger = appmiddleware.Logger{Logger: applog.StandardLogger()}

	e.HTTPErrorHandler = httputil.ErrorHandler

	e.Use(appmiddleware.PanicRecovery())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set(echo.HeaderServer, "")
			return next(c)
		}
	})
	e.Use(appmiddleware.HTTPLogger())
	e.Use(appmiddleware.RateLimiting(constants.DefaultRateLimitPerSecond, constants.DefaultRateLimitBurst))
	e.Use(middleware.BodyLimit(constants.DefaultMaxBodySize))
	e.Use(middleware.Secure())

	return e
}
