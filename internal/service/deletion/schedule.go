package deletion

import (
	"time"
)

// ScheduledDeletion 엔티티 하나에 대한 예약 삭제 요청입니다.
//
// Executor가 실행하면 성공 여부와 관계없이 삭제됩니다. 다시 시도하려면 새로 예약해야 합니다.
type ScheduledDeletion struct {
	ID     string
	Target EntityRef

	// Actor 삭제를 요청한 사용자. 시스템이 시작한 삭제라면 nil입니다.
	Actor *ActorRef

	// DueAt 이 시각 이후부터 실행 대상이 됩니다.
	DueAt time.Time

	// InProgress Executor가 선점했는지 여부. 한 번 true가 되면 취소할 수 없습니다.
	InProgress bool

	CreatedAt time.Time
}

// IsDue now 기준으로 실행 대상인지 여부를 반환합니다.
func (s *ScheduledDeletion) IsDue(now time.Time) bool {
	return !s.InProgress && !s.DueAt.After(now)
}

// Clone 저장소 내부 상태와 공유되지 않는 복사본을 반환합니다.
func (s *ScheduledDeletion) Clone() *ScheduledDeletion {
	c := *s
	if s.Actor != nil {
		actor := *s.Actor
		c.Actor = &actor
	}
	return &c
}
