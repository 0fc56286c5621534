package deletion

import (
	"context"
	"time"
)

// Store 엔티티, 삭제 예약, 삭제 대기 마커를 보관하는 저장소입니다.
//
// 조회 메서드는 내부 상태와 공유되지 않는 복사본을 반환해야 합니다.
type Store interface {
	// PutEntity 엔티티를 저장합니다. 같은 Ref가 있으면 덮어씁니다.
	PutEntity(ctx context.Context, e *Entity) error

	// GetEntity 엔티티를 조회합니다. 없으면 ErrEntityNotFound를 반환합니다.
	GetEntity(ctx context.Context, ref EntityRef) (*Entity, error)

	// FindEntities typ 타입 중 key 속성의 값이 value와 정확히 일치하는 엔티티를 반환합니다.
	FindEntities(ctx context.Context, typ EntityType, key, value string) ([]*Entity, error)

	// SetStatus 엔티티의 상태를 변경합니다. 없으면 ErrEntityNotFound를 반환합니다.
	SetStatus(ctx context.Context, ref EntityRef, status Status) error

	// CreateSchedule 예약을 생성합니다. 같은 대상에 대한 예약이 있으면 ErrScheduleExists를 반환합니다.
	CreateSchedule(ctx context.Context, s *ScheduledDeletion) error

	// GetSchedule 예약을 조회합니다. 없으면 ErrScheduleNotFound를 반환합니다.
	GetSchedule(ctx context.Context, id string) (*ScheduledDeletion, error)

	// FindScheduleByTarget 대상 엔티티의 예약을 조회합니다. 없으면 ErrScheduleNotFound를 반환합니다.
	FindScheduleByTarget(ctx context.Context, ref EntityRef) (*ScheduledDeletion, error)

	// RescheduleUnclaimed 선점되지 않은 예약의 실행 시각과 요청자를 변경합니다.
	// actor가 nil이면 기존 요청자를 유지합니다. 이미 선점되었으면 ErrScheduleClaimed를 반환합니다.
	RescheduleUnclaimed(ctx context.Context, id string, dueAt time.Time, actor *ActorRef) error

	// ListDueSchedules 선점되지 않았고 DueAt <= now인 예약을 DueAt 순서로 최대 limit개 반환합니다.
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*ScheduledDeletion, error)

	// ClaimSchedule 예약을 원자적으로 선점합니다. 이미 선점되었거나 없으면 false를 반환합니다.
	ClaimSchedule(ctx context.Context, id string) (bool, error)

	// RemoveUnclaimedSchedule 선점되지 않은 예약을 삭제합니다. 이미 선점되었으면 ErrScheduleClaimed를 반환합니다.
	RemoveUnclaimedSchedule(ctx context.Context, id string) error

	// DeleteSchedule 선점 여부와 관계없이 예약을 삭제합니다. 없어도 에러가 아닙니다.
	DeleteSchedule(ctx context.Context, id string) error

	// PutMarker / DeleteMarker 삭제 대기 마커를 기록하거나 제거합니다. 제거할 마커가 없어도 에러가 아닙니다.
	PutMarker(ctx context.Context, key, value string) error
	GetMarker(ctx context.Context, key string) (string, bool, error)
	DeleteMarker(ctx context.Context, key string) error

	// Update fn을 하나의 트랜잭션으로 실행합니다. fn이 에러를 반환하면 변경 사항은 모두 취소됩니다.
	Update(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx Store.Update 안에서 사용하는 쓰기 작업입니다.
// 대상 엔티티가 이미 없으면 두 메서드 모두 아무것도 하지 않고 nil을 반환합니다.
type Tx interface {
	DeleteEntity(ref EntityRef) error
	ClearAttr(ref EntityRef, key string) error
}
