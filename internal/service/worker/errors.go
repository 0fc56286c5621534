package worker

import (
	apperrors "github.com/darkkaiser/deletion-server/internal/pkg/errors"
)

var (
	// ErrExecutorNotInitialized 서비스 시작 시 Executor가 설정되지 않았을 때 반환하는 에러입니다.
	ErrExecutorNotInitialized = apperrors.New(apperrors.Internal, "Executor 객체가 초기화되지 않았습니다")
)

// newErrInvalidCronSpec 스윕 주기 Cron 표현식이 올바르지 않을 때 반환하는 에러를 생성합니다.
func newErrInvalidCronSpec(timeSpec string, cause error) error {
	return apperrors.Wrapf(cause, apperrors.InvalidInput, "스윕 스케줄 등록 실패: 잘못된 Cron 표현식입니다 (TimeSpec='%s')", timeSpec)
}
