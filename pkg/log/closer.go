package log

import (
	"errors"
	"io"
	"sync/atomic"
)

// closer Main, Critical, Verbose 로그 파일의 리소스 해제를 통합 관리합니다.
//
// Hook을 먼저 비활성화한 뒤 파일을 닫아 닫힌 파일에 쓰기를 시도하지 않도록 하며,
// 여러 번 호출해도 두 번째 이후 호출은 즉시 nil을 반환합니다.
type closer struct {
	closers []io.Closer

	hook *hook

	closed atomic.Bool
}

func (c *closer) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	if c.hook != nil {
		_ = c.hook.Close()
	}

	var errs error
	for _, cl := range c.closers {
		if cl == nil {
			continue
		}

		if s, ok := cl.(interface{ Sync() error }); ok {
			_ = s.Sync()
		}

		if err := cl.Close(); err != nil {
			errs = errors.Join(errs, err)
		}
	}

	return errs
}
