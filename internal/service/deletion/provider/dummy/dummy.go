// Package dummy 외부 리소스가 없는 엔티티에 사용하는 Provider를 제공합니다.
//
// 실제 연동 없이 정리 요청을 기록하고 성공으로 처리하므로 개발 환경과 테스트에서 사용합니다.
package dummy

import (
	"context"

	"github.com/darkkaiser/deletion-server/internal/service/deletion"
	applog "github.com/darkkaiser/deletion-server/pkg/log"
)

// ID ProviderRegistry에 등록되는 이름
const ID = "dummy"

const component = "provider.dummy"

// Provider 아무것도 정리하지 않는 Provider입니다.
type Provider struct{}

// New Provider를 생성합니다.
func New() *Provider {
	return &Provider{}
}

func (p *Provider) DeleteExternalResource(ctx context.Context, e *deletion.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	applog.WithComponentAndFields(component, applog.Fields{
		"target": e.Ref.String(),
	}).Debug("정리할 외부 리소스가 없습니다")

	return nil
}

// Register Provider를 registry에 등록합니다.
func Register(registry *deletion.ProviderRegistry) error {
	return registry.Register(ID, New())
}
