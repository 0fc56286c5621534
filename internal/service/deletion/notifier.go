package deletion

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/darkkaiser/deletion-server/internal/pkg/errors"
	applog "github.com/darkkaiser/deletion-server/pkg/log"
)

const componentNotifier = "deletion.notifier"

// genericFailureMessage 예상치 못한 에러 대신 요청자에게 보여주는 문구입니다.
const genericFailureMessage = "An unexpected error occurred while cleaning up resources associated with it."

// MessageSender 요청자에게 메시지(메일 등)를 발송합니다.
type MessageSender interface {
	SendMessage(ctx context.Context, recipient, subject, body string) error
}

// OpsAlerter 요청자가 없는 실패를 운영자에게 전달합니다.
type OpsAlerter interface {
	Alert(ctx context.Context, message string) error
}

// FailureNotifier 삭제 실패를 요청자에게 알립니다.
//
// *ProviderError의 메시지는 본문에 그대로 포함하고, 그 외 에러의 메시지는 본문에 절대 포함하지 않습니다.
type FailureNotifier struct {
	sender  MessageSender
	alerter OpsAlerter
	graph   *Graph
	metrics *Metrics
}

// NotifierOption FailureNotifier의 선택 설정입니다.
type NotifierOption func(*FailureNotifier)

// WithOpsAlerter 요청자가 없는 실패를 전달할 운영 채널을 지정합니다.
func WithOpsAlerter(a OpsAlerter) NotifierOption {
	return func(n *FailureNotifier) { n.alerter = a }
}

// WithNotifierMetrics 알림 발송 지표를 기록할 Metrics를 지정합니다.
func WithNotifierMetrics(m *Metrics) NotifierOption {
	return func(n *FailureNotifier) { n.metrics = m }
}

// NewFailureNotifier FailureNotifier를 생성합니다. sender가 nil이면 요청자에게는 발송하지 않고 로그만 남깁니다.
func NewFailureNotifier(sender MessageSender, graph *Graph, opts ...NotifierOption) *FailureNotifier {
	n := &FailureNotifier{
		sender: sender,
		graph:  graph,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify 삭제 실패를 actor에게 한 통의 메시지로 알립니다.
//
// target은 알림 제목을 결정하고, description은 본문에 표시할 대상 설명입니다.
// actor가 없으면 사용자에게는 발송하지 않고 로그와 운영 채널로만 전달합니다.
func (n *FailureNotifier) Notify(ctx context.Context, actor *ActorRef, target EntityRef, description string, cause error) error {
	subject := n.graph.FailureSubject(target.Type)

	logger := applog.WithComponentAndFields(componentNotifier, applog.Fields{
		"target":  target.String(),
		"subject": subject,
		"error":   cause,
	})

	if actor == nil || actor.Email == "" {
		logger.Error("요청자가 없는 삭제 작업이 실패했습니다")

		if n.alerter != nil {
			err := n.alerter.Alert(ctx, fmt.Sprintf("%s\n대상: %s\n에러: %v", subject, description, cause))
			n.metrics.notificationSent("ops", err)
			if err != nil {
				return apperrors.Wrap(err, apperrors.Unavailable, "운영 알림 발송에 실패했습니다")
			}
		}
		return nil
	}

	if n.sender == nil {
		logger.WithField("actor_id", actor.ID).Warn("메일 발송이 설정되지 않아 삭제 실패 알림을 보내지 못했습니다")
		return nil
	}

	err := n.sender.SendMessage(ctx, actor.Email, subject, composeFailureBody(description, cause))
	n.metrics.notificationSent("mail", err)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.Unavailable, "삭제 실패 알림 발송에 실패했습니다 (actor=%s)", actor.ID)
	}

	logger.WithField("actor_id", actor.ID).Info("삭제 실패 알림 발송 완료")

	return nil
}

// composeFailureBody 요청자에게 보낼 본문을 만듭니다.
func composeFailureBody(description string, cause error) string {
	providerMessages, unexpected := classify(cause)

	var b strings.Builder
	fmt.Fprintf(&b, "We were unable to completely delete %s.\n\n", description)

	if len(providerMessages) > 0 {
		b.WriteString("The following errors were reported:\n\n")
		for _, msg := range providerMessages {
			fmt.Fprintf(&b, "  - %s\n", msg)
		}
		b.WriteString("\n")
	}
	if unexpected || len(providerMessages) == 0 {
		b.WriteString(genericFailureMessage + "\n\n")
	}

	b.WriteString("You may need to remove these resources manually from the integration's side.\n")

	return b.String()
}

// classify 에러 트리를 순회하여 *ProviderError 메시지를 수집하고, 그 외 에러가 있었는지 여부를 반환합니다.
func classify(err error) (providerMessages []string, unexpected bool) {
	seen := make(map[string]struct{})

	var walk func(err error)
	walk = func(err error) {
		if err == nil {
			return
		}

		if pe, ok := err.(*ProviderError); ok {
			// nil *ProviderError를 반환한 Provider는 메시지를 신뢰할 수 없습니다.
			if pe == nil {
				unexpected = true
				return
			}
			if _, dup := seen[pe.Message]; !dup {
				seen[pe.Message] = struct{}{}
				providerMessages = append(providerMessages, pe.Message)
			}
			return
		}

		switch x := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range x.Unwrap() {
				walk(e)
			}
		case interface{ Unwrap() error }:
			if inner := x.Unwrap(); inner != nil {
				walk(inner)
			} else {
				unexpected = true
			}
		default:
			unexpected = true
		}
	}
	walk(err)

	return providerMessages, unexpected
}
