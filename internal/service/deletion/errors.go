package deletion

import (
	"fmt"

	apperrors "github.com/darkkaiser/deletion-server/internal/pkg/errors"
)

var (
	// ErrEntityNotFound 삭제 대상 엔티티가 저장소에 존재하지 않습니다.
	ErrEntityNotFound = apperrors.New(apperrors.NotFound, "엔티티를 찾을 수 없습니다")

	// ErrScheduleNotFound 삭제 예약이 존재하지 않습니다.
	ErrScheduleNotFound = apperrors.New(apperrors.NotFound, "삭제 예약을 찾을 수 없습니다")

	// ErrScheduleExists 같은 엔티티를 대상으로 하는 예약이 이미 존재합니다.
	ErrScheduleExists = apperrors.New(apperrors.Conflict, "같은 엔티티에 대한 삭제 예약이 이미 존재합니다")

	// ErrScheduleClaimed Executor가 이미 선점한 예약이라 변경하거나 취소할 수 없습니다.
	ErrScheduleClaimed = apperrors.New(apperrors.Conflict, "이미 실행 중인 삭제 예약은 변경하거나 취소할 수 없습니다")

	// ErrDeletionInProgress 삭제가 실행 중인 엔티티를 다시 예약하려고 했습니다.
	ErrDeletionInProgress = apperrors.New(apperrors.Conflict, "삭제가 이미 진행 중입니다")

	// ErrNotPendingDeletion 삭제 대기 상태가 아닌 엔티티의 삭제 계획을 요청했습니다.
	ErrNotPendingDeletion = apperrors.New(apperrors.ExecutionFailed, "삭제 대기 상태가 아닌 엔티티입니다")
)

func newErrInvalidDelay(delay fmt.Stringer) error {
	return apperrors.Newf(apperrors.InvalidInput, "삭제 지연 시간은 0 이상이어야 합니다: %s", delay)
}

func newErrUnknownEntityType(t EntityType) error {
	return apperrors.Newf(apperrors.InvalidInput, "의존 관계 그래프에 등록되지 않은 엔티티 타입입니다: '%s'", t)
}

func newErrProviderNotFound(id string) error {
	return apperrors.Newf(apperrors.NotFound, "등록되지 않은 Provider입니다: '%s'", id)
}
