// Package deletion 엔티티의 예약 삭제와 연쇄(Cascade) 삭제를 담당합니다.
//
// 전체 흐름:
//
//	Scheduler.Schedule  →  (지연 시간 경과)  →  Executor.RunDue
//	                                             ├─ Resolver.Plan      (의존 엔티티 탐색, 위상 정렬)
//	                                             ├─ Provider 정리      (외부 리소스 해제)
//	                                             ├─ Store.Update       (엔티티 타입별 트랜잭션)
//	                                             └─ FailureNotifier    (실패 시 요청자에게 통보)
//
// 엔티티 상태는 ACTIVE → PENDING_DELETION → (삭제됨) 순서로만 전이하며,
// Executor가 예약을 선점(Claim)하기 전에 한해 Scheduler.Cancel로 ACTIVE로 되돌릴 수 있습니다.
//
// Executor는 저장소나 주기 실행 방식에 의존하지 않습니다. 실제 저장소는 store/memory,
// store/sqlite 패키지가, 주기 실행은 worker 패키지가 담당합니다.
package deletion
