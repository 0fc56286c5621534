// Package constants API 서비스 전반에서 공유하는 상수를 정의합니다.
package constants

import "time"

// 로깅 시 로그의 발생 위치(컴포넌트)를 식별하기 위한 상수입니다.
const (
	ComponentHandler      = "api.handler"
	ComponentService      = "api.service"
	ComponentMiddleware   = "api.middleware"
	ComponentErrorHandler = "api.error_handler"
)

// 클라이언트에게 반환되는 표준 에러 메시지입니다.
const (
	ErrMsgNotFound        = "페이지를 찾을 수 없습니다."
	ErrMsgInternalServer  = "내부 서버 오류가 발생했습니다."
	ErrMsgTooManyRequests = "요청이 너무 많습니다. 잠시 후 다시 시도해주세요."
)

// HTTP 서버 보호를 위한 기본값입니다.
const (
	// DefaultMaxBodySize 요청 본문의 최대 크기. 이 서비스는 본문을 받는 엔드포인트가 없습니다.
	DefaultMaxBodySize = "16K"

	DefaultReadTimeout       = 10 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 120 * time.Second

	// IP별 요청 제한 (초당 10회, 버스트 20)
	DefaultRateLimitPerSecond = 10
	DefaultRateLimitBurst     = 20

	// ShutdownTimeout Graceful Shutdown 시 최대 대기 시간
	ShutdownTimeout = 5 * time.Second
)
