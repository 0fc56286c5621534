// Package middleware API 서버에 적용되는 Echo 미들웨어를 제공합니다.
//
// 적용 순서는 api.NewHTTPServer가 결정합니다: PanicRecovery → RequestID → HTTPLogger → RateLimiting → BodyLimit → Secure.
package middleware
