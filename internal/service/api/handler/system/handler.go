// Package system 인증이 필요 없는 시스템 엔드포인트(헬스체크, 버전 정보)를 처리합니다.
package system

import (
	"net/http"

	"github.com/darkkaiser/deletion-server/internal/pkg/version"
	"github.com/darkkaiser/deletion-server/internal/service/api/constants"
	applog "github.com/darkkaiser/deletion-server/pkg/log"
	"github.com/labstack/echo/v4"
)

// HealthResponse 헬스체크 응답입니다.
type HealthResponse struct {
	IsHealthy bool `json:"is_healthy"`
}

// Handler 시스템 엔드포인트 핸들러
type Handler struct {
	buildInfo version.Info
}

// New Handler 인스턴스를 생성합니다.
func New(buildInfo version.Info) *Handler {
	return &Handler{
		buildInfo: buildInfo,
	}
}

// HealthCheckHandler 프로세스가 요청을 처리할 수 있으면 항상 200을 응답합니다.
//
// 저장소, 메일, 텔레그램 등 다른 서비스의 상태와 무관한 liveness 프로브입니다.
func (h *Handler) HealthCheckHandler(c echo.Context) error {
	applog.WithComponentAndFields(constants.ComponentHandler, applog.Fields{
		"endpoint":  "/health",
		"remote_ip": c.RealIP(),
	}).Debug("헬스체크 요청")

	return c.JSON(http.StatusOK, HealthResponse{IsHealthy: true})
}

// VersionHandler 빌드 정보를 반환합니다.
func (h *Handler) VersionHandler(c echo.Context) error {
	applog.WithComponentAndFields(constants.ComponentHandler, applog.Fields{
		"endpoint":  "/version",
		"remote_ip": c.RealIP(),
	}).Debug("버전 정보 요청")

	return c.JSON(http.StatusOK, h.buildInfo)
}
