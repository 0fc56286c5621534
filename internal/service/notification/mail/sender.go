// Package mail 삭제 실패 알림을 SMTP 메일로 발송하는 deletion.MessageSender 구현체를 제공합니다.
package mail

import (
	"context"
	"strings"
	"time"

	"github.com/darkkaiser/deletion-server/internal/config"
	apperrors "github.com/darkkaiser/deletion-server/internal/pkg/errors"
	"github.com/darkkaiser/deletion-server/internal/service/deletion"
	applog "github.com/darkkaiser/deletion-server/pkg/log"
	gomail "github.com/wneessen/go-mail"
	"golang.org/x/time/rate"
)

// component 메일 발송 로깅용 컴포넌트 이름
const component = "notification.mail"

const (
	// dialTimeout SMTP 서버 연결 및 명령 처리의 최대 대기 시간
	dialTimeout = 15 * time.Second

	// 메일 서버 보호를 위한 발송 속도 제한 (초당 2통, 순간 최대 5통)
	sendRateLimit = rate.Limit(2)
	sendRateBurst = 5
)

var _ deletion.MessageSender = (*Sender)(nil)

// dialer SMTP 서버와의 통신을 추상화한 인터페이스입니다. *gomail.Client가 구현합니다.
type dialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// Sender 메일 발송기입니다.
type Sender struct {
	from string

	dialer  dialer
	limiter *rate.Limiter
}

// New SMTP 설정으로 Sender를 생성합니다. 서버 연결은 발송 시점에 이루어집니다.
func New(cfg config.MailConfig) (*Sender, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTimeout(dialTimeout),
		gomail.WithTLSPolicy(tlsPolicy(cfg.TLSPolicy)),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.InvalidInput, "SMTP 클라이언트 생성에 실패했습니다 (host=%s, port=%d)", cfg.Host, cfg.Port)
	}

	applog.WithComponentAndFields(component, applog.Fields{
		"host":       cfg.Host,
		"port":       cfg.Port,
		"tls_policy": cfg.TLSPolicy,
		"username":   applog.MaskSensitiveData(cfg.Username),
	}).Debug("SMTP 메일 발송기 생성")

	return newSender(cfg.From, client), nil
}

func newSender(from string, d dialer) *Sender {
	return &Sender{
		from:    from,
		dialer:  d,
		limiter: rate.NewLimiter(sendRateLimit, sendRateBurst),
	}
}

func tlsPolicy(policy string) gomail.TLSPolicy {
	switch policy {
	case config.TLSPolicyOpportunistic:
		return gomail.TLSOpportunistic
	case config.TLSPolicyNone:
		return gomail.NoTLS
	default:
		return gomail.TLSMandatory
	}
}

// SendMessage recipient에게 일반 텍스트 메일 한 통을 발송합니다.
func (s *Sender) SendMessage(ctx context.Context, recipient, subject, body string) error {
	msg, err := s.newMessage(recipient, subject, body)
	if err != nil {
		return err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.Timeout, "메일 발송 대기 중 요청이 취소되었습니다")
	}

	if err := s.dialer.DialAndSendWithContext(ctx, msg); err != nil {
		return apperrors.Wrapf(err, apperrors.Unavailable, "메일 발송에 실패했습니다 (recipient=%s)", recipient)
	}

	applog.WithComponentAndFields(component, applog.Fields{
		"recipient": recipient,
		"subject":   subject,
	}).Info("메일 발송 완료")

	return nil
}

func (s *Sender) newMessage(recipient, subject, body string) (*gomail.Msg, error) {
	if strings.TrimSpace(recipient) == "" {
		return nil, apperrors.New(apperrors.InvalidInput, "메일 수신자가 비어 있습니다")
	}

	msg := gomail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.InvalidInput, "잘못된 발신자 주소입니다: '%s'", s.from)
	}
	if err := msg.To(recipient); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.InvalidInput, "잘못된 수신자 주소입니다: '%s'", recipient)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(gomail.TypeTextPlain, body)

	return msg, nil
}
