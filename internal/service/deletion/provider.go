package deletion

import (
	"context"
	"sync"

	apperrors "github.com/darkkaiser/deletion-server/internal/pkg/errors"
)

// Provider 엔티티와 연결된 외부 리소스(예: 저장소 웹훅)를 정리합니다.
//
// 사용자에게 그대로 보여줘도 되는 실패는 *ProviderError로 반환해야 합니다.
// 그 외의 에러는 예상치 못한 실패로 분류되어 메시지가 요청자에게 노출되지 않습니다.
type Provider interface {
	DeleteExternalResource(ctx context.Context, e *Entity) error
}

// ProviderFunc 함수를 Provider로 사용하기 위한 어댑터입니다.
type ProviderFunc func(ctx context.Context, e *Entity) error

func (f ProviderFunc) DeleteExternalResource(ctx context.Context, e *Entity) error {
	return f(ctx, e)
}

// ProviderError Provider가 사용자에게 알려도 되는 실패를 표현합니다.
// Error()는 Message를 그대로 반환합니다.
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

// NewProviderError 사용자에게 노출 가능한 Provider 에러를 생성합니다.
func NewProviderError(provider, message string) *ProviderError {
	return &ProviderError{Provider: provider, Message: message}
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ProviderRegistry Provider ID별로 Provider를 관리합니다.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewProviderRegistry 빈 ProviderRegistry를 생성합니다.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]Provider),
	}
}

// Register Provider를 등록합니다. 같은 ID가 이미 있으면 Conflict 에러를 반환합니다.
func (r *ProviderRegistry) Register(id string, p Provider) error {
	if id == "" || p == nil {
		return apperrors.New(apperrors.InvalidInput, "Provider ID와 구현체는 비어 있을 수 없습니다")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[id]; exists {
		return apperrors.Newf(apperrors.Conflict, "이미 등록된 Provider입니다: '%s'", id)
	}
	r.providers[id] = p

	return nil
}

// Lookup Provider를 조회합니다.
func (r *ProviderRegistry) Lookup(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	return p, ok
}
