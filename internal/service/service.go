// Package service 애플리케이션을 구성하는 서비스들의 공통 생명주기 인터페이스를 정의합니다.
package service

import (
	"context"
	"sync"
)

// Service main에서 일괄적으로 시작하고 종료를 기다리는 서비스입니다.
//
// Start는 호출 즉시 반환해야 하며, serviceStopCtx가 취소되면 리소스를 정리한 뒤 serviceStopWG.Done()을 호출해야 합니다.
// 시작에 실패한 경우에도 serviceStopWG.Done()은 반드시 호출되어야 합니다.
type Service interface {
	Start(serviceStopCtx context.Context, serviceStopWG *sync.WaitGroup) error
}
