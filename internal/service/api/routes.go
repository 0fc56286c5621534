package api

import (
	"github.com/darkkaiser/deletion-server/internal/service/api/handler/system"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes 시스템 엔드포인트를 등록합니다. 모든 엔드포인트는 인증이 필요 없습니다.
//
//   - GET /health: liveness 프로브
//   - GET /version: 빌드 정보
//   - GET /metrics: Prometheus 지표 (gatherer가 nil이면 등록하지 않음)
func RegisterRoutes(e *echo.Echo, h *system.Handler, gatherer prometheus.Gatherer) {
	e.GET("/health", h.HealthCheckHandler)
	e.GET("/version", h.VersionHandler)

	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}
