package log

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// hook 로그 레벨에 따라 하나의 로그 이벤트를 Main, Critical, Verbose, Console 채널로 분배합니다.
//
// 라우팅 정책:
//   - Error 이상: Critical + Main
//   - Info/Warn: Main
//   - Debug 이하: Verbose (Main에는 기록하지 않음)
//   - Console: 레벨과 무관하게 모두 출력
type hook struct {
	mainWriter     io.Writer
	criticalWriter io.Writer
	verboseWriter  io.Writer
	consoleWriter  io.Writer

	formatter Formatter

	mu sync.RWMutex // 로그 기록(RLock)과 종료 처리(Lock) 간의 동시성 제어

	closed bool
}

// Levels 이 Hook이 수신할 로그 레벨의 집합을 반환합니다.
func (h *hook) Levels() []Level {
	return AllLevels
}

// Fire 로그 이벤트를 수신하여 레벨 기반 라우팅 정책에 따라 기록합니다.
func (h *hook) Fire(entry *Entry) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil
	}

	msg, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}

	var firstErr error
	record := func(w io.Writer, channel string) {
		if _, err := w.Write(msg); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			fmt.Fprintf(os.Stderr, "[LOG-SYSTEM-FAILURE] %s 로그 쓰기 실패: %v\n", channel, err)
		}
	}

	// 콘솔 출력 실패는 로깅 시스템 전체의 가용성에 영향을 주지 않도록 전파하지 않습니다.
	if h.consoleWriter != nil {
		if _, err := h.consoleWriter.Write(msg); err != nil {
			fmt.Fprintf(os.Stderr, "[LOG-SYSTEM-WARN] 표준 출력 쓰기 실패: %v\n", err)
		}
	}

	if entry.Level <= ErrorLevel && h.criticalWriter != nil {
		record(h.criticalWriter, "Critical")
	}

	if entry.Level >= DebugLevel {
		if h.verboseWriter != nil {
			record(h.verboseWriter, "Verbose")
		}
		return firstErr
	}

	if h.mainWriter != nil {
		record(h.mainWriter, "Main")
	}

	return firstErr
}

// Close 더 이상의 로그 기록을 차단합니다. 진행 중인 기록이 끝날 때까지 대기합니다.
func (h *hook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true

	return nil
}
