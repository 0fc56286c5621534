// Package telegram 요청자가 없는 삭제 실패를 텔레그램 채팅방으로 전달하는 운영 알림 채널을 제공합니다.
package telegram

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	apperrors "github.com/darkkaiser/deletion-server/internal/pkg/errors"
	"github.com/darkkaiser/deletion-server/internal/service/deletion"
	applog "github.com/darkkaiser/deletion-server/pkg/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// component 텔레그램 운영 알림 로깅용 컴포넌트 이름
const component = "notification.telegram"

const (
	// messageMaxLength 텔레그램 메시지 한 통의 최대 길이 (공식 제한 4096자에서 여유분을 둠)
	messageMaxLength = 3900

	// queueSize 발송 대기열의 크기. 가득 차면 Alert는 즉시 실패합니다.
	queueSize = 100

	// shutdownTimeout 종료 시 대기열에 남은 알림을 발송하는 최대 시간
	shutdownTimeout = 10 * time.Second

	maxRetries        = 3
	defaultRetryDelay = 2 * time.Second
)

var (
	_ deletion.OpsAlerter = (*Alerter)(nil)

	// ErrQueueFull 발송 대기열이 가득 찼습니다.
	ErrQueueFull = apperrors.New(apperrors.Unavailable, "운영 알림 발송 대기열이 가득 찼습니다")
)

// client 텔레그램 봇 API와의 통신을 추상화한 인터페이스입니다.
type client interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Alerter 운영 알림을 비동기로 발송합니다.
//
// Alert는 대기열에 넣기만 하므로 삭제 실행을 지연시키지 않으며, 실제 발송은 Start로 시작한 고루틴이 담당합니다.
type Alerter struct {
	chatID int64
	client client

	// 텔레그램 정책(채팅방당 초당 1회)을 준수하기 위한 발송 속도 제한
	limiter    *rate.Limiter
	retryDelay time.Duration

	alertC chan string

	running   bool
	runningMu sync.Mutex
}

// New 봇 토큰으로 텔레그램 API에 연결하여 Alerter를 생성합니다.
func New(botToken string, chatID int64) (*Alerter, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.Unavailable, "텔레그램 봇 초기화에 실패했습니다 (token=%s)", applog.MaskSensitiveData(botToken))
	}

	applog.WithComponentAndFields(component, applog.Fields{
		"bot_username": bot.Self.UserName,
		"chat_id":      chatID,
	}).Info("텔레그램 운영 알림 채널 연결 완료")

	return newAlerter(bot, chatID), nil
}

func newAlerter(c client, chatID int64) *Alerter {
	return &Alerter{
		chatID:     chatID,
		client:     c,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		retryDelay: defaultRetryDelay,
		alertC:     make(chan string, queueSize),
	}
}

// Alert 운영 알림을 발송 대기열에 추가합니다.
func (a *Alerter) Alert(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case a.alertC <- message:
		return nil
	default:
		applog.WithComponentAndFields(component, applog.Fields{
			"chat_id":    a.chatID,
			"queue_size": queueSize,
		}).Error("운영 알림 폐기: 발송 대기열이 가득 찼습니다")
		return ErrQueueFull
	}
}

// Start 발송 고루틴을 시작합니다.
func (a *Alerter) Start(serviceStopCtx context.Context, serviceStopWG *sync.WaitGroup) error {
	a.runningMu.Lock()
	defer a.runningMu.Unlock()

	if a.running {
		serviceStopWG.Done()
		applog.WithComponent(component).Warn("텔레그램 운영 알림 채널이 이미 실행 중입니다 (중복 호출)")
		return nil
	}
	a.running = true

	go func() {
		defer serviceStopWG.Done()

		a.run(serviceStopCtx)

		a.runningMu.Lock()
		a.running = false
		a.runningMu.Unlock()
	}()

	applog.WithComponentAndFields(component, applog.Fields{
		"chat_id": a.chatID,
	}).Info("서비스 시작 완료: 텔레그램 운영 알림 채널이 시작되었습니다")

	return nil
}

func (a *Alerter) run(serviceStopCtx context.Context) {
	for {
		select {
		case message := <-a.alertC:
			a.safeSend(serviceStopCtx, message)

		case <-serviceStopCtx.Done():
			a.drain()
			applog.WithComponent(component).Info("텔레그램 운영 알림 채널 종료 완료")
			return
		}
	}
}

// drain 종료 시 대기열에 남은 알림을 shutdownTimeout 안에서 최대한 발송합니다.
func (a *Alerter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for {
		select {
		case message := <-a.alertC:
			if ctx.Err() != nil {
				applog.WithComponentAndFields(component, applog.Fields{
					"remaining_in_buffer": len(a.alertC) + 1,
				}).Warn("잔여 운영 알림 폐기: 종료 대기 시간 초과")
				return
			}
			a.safeSend(ctx, message)

		default:
			return
		}
	}
}

// safeSend 알림 한 건의 발송 중 발생한 패닉이 발송 고루틴을 중단시키지 않도록 격리합니다.
func (a *Alerter) safeSend(ctx context.Context, message string) {
	defer func() {
		if r := recover(); r != nil {
			applog.WithComponentAndFields(component, applog.Fields{
				"chat_id": a.chatID,
				"panic":   r,
			}).Error("운영 알림 처리 실패: 발송 중 패닉 발생 (해당 건 스킵)")
		}
	}()

	for _, chunk := range splitMessage(message, messageMaxLength) {
		if err := a.sendChunk(ctx, chunk); err != nil {
			return
		}
	}
}

func (a *Alerter) sendChunk(ctx context.Context, text string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(a.chatID, text)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := a.client.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		code, retryAfter := extractErrorCode(err)

		applog.WithComponentAndFields(component, applog.Fields{
			"chat_id": a.chatID,
			"attempt": attempt,
			"code":    code,
			"error":   err,
		}).Warn("운영 알림 발송 실패")

		if !shouldRetry(code) || attempt == maxRetries {
			break
		}

		wait := a.retryDelay
		if retryAfter > 0 {
			wait = time.Duration(retryAfter) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	applog.WithComponentAndFields(component, applog.Fields{
		"chat_id": a.chatID,
		"error":   lastErr,
	}).Error("운영 알림 최종 발송 실패")

	return lastErr
}

// extractErrorCode 텔레그램 API 에러에서 에러 코드와 Retry-After 값을 추출합니다.
func extractErrorCode(err error) (code int, retryAfter int) {
	if apiErr, ok := err.(tgbotapi.Error); ok {
		return apiErr.Code, apiErr.RetryAfter
	}
	if apiErr, ok := err.(*tgbotapi.Error); ok {
		return apiErr.Code, apiErr.RetryAfter
	}
	return 0, 0
}

// shouldRetry 429를 제외한 4xx 에러는 재시도하지 않습니다.
func shouldRetry(code int) bool {
	if code >= 400 && code < 500 {
		return code == 429
	}
	return true
}

// splitMessage 메시지를 limit 바이트 이하의 조각으로 나눕니다. 가능하면 줄 경계에서 자르고, UTF-8 문자는 깨뜨리지 않습니다.
func splitMessage(s string, limit int) []string {
	var chunks []string
	for len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if nl := strings.LastIndexByte(s[:cut], '\n'); nl > 0 {
			cut = nl + 1
		}
		if cut == 0 {
			cut = limit
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if s != "" || len(chunks) == 0 {
		chunks = append(chunks, s)
	}
	return chunks
}
