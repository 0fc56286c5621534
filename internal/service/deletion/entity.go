package deletion

import (
	"fmt"
	"maps"
)

// EntityType 엔티티의 종류를 나타냅니다. (예: "repository", "commit")
type EntityType string

// EntityRef 타입과 ID로 엔티티를 식별합니다. ID는 같은 타입 안에서만 유일합니다.
type EntityRef struct {
	Type EntityType
	ID   string
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// Status 엔티티의 생명주기 상태입니다.
type Status string

const (
	StatusActive          Status = "active"
	StatusPendingDeletion Status = "pending_deletion"
)

// ActorRef 삭제를 요청했거나 엔티티를 소유한 사용자입니다.
type ActorRef struct {
	ID    string
	Email string
}

// Entity 삭제 대상이 될 수 있는 도메인 엔티티입니다.
//
// 의존 관계는 Attrs에 저장된 부모 ID(예: "repository_id")로 표현됩니다.
type Entity struct {
	Ref    EntityRef
	Status Status
	Owner  *ActorRef
	Attrs  map[string]string
}

// Attr 속성 값을 반환합니다. 없으면 빈 문자열입니다.
func (e *Entity) Attr(key string) string {
	if e.Attrs == nil {
		return ""
	}
	return e.Attrs[key]
}

// Clone 저장소 내부 상태와 공유되지 않는 복사본을 반환합니다.
func (e *Entity) Clone() *Entity {
	c := *e
	c.Attrs = maps.Clone(e.Attrs)
	if e.Owner != nil {
		owner := *e.Owner
		c.Owner = &owner
	}
	return &c
}

// describe 알림 메시지에 표시할 엔티티 설명을 반환합니다.
func (e *Entity) describe() string {
	if name := e.Attr("name"); name != "" {
		return fmt.Sprintf("%s '%s'", e.Ref.Type, name)
	}
	return e.Ref.String()
}

// MarkerKey 삭제 대기 마커의 키를 반환합니다.
//
// 마커는 삭제가 진행 중임을 알리는 키-값 레코드이며, 중단된 이전 실행이 남긴 마커는
// 다음 실행이 성공하면서 함께 정리됩니다.
func MarkerKey(ref EntityRef) string {
	return fmt.Sprintf("pending-deletion:%s:%s", ref.Type, ref.ID)
}
