package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	StorageDriverMemory = "memory"
	StorageDriverSQLite = "sqlite"
)

const (
	TLSPolicyMandatory     = "mandatory"
	TLSPolicyOpportunistic = "opportunistic"
	TLSPolicyNone          = "none"
)

// AppConfig 애플리케이션의 모든 설정을 포함하는 최상위 구조체
type AppConfig struct {
	Debug    bool           `json:"debug"`
	Storage  StorageConfig  `json:"storage"`
	Deletion DeletionConfig `json:"deletion"`
	Mail     MailConfig     `json:"mail"`
	OpsAlert OpsAlertConfig `json:"ops_alert"`
	HTTP     HTTPConfig     `json:"http"`
}

// validate 설정 로드 직후 각 항목의 정합성을 검증합니다.
func (c *AppConfig) validate(v *validator.Validate) error {
	if err := checkStruct(v, c.Storage, "저장소(storage)"); err != nil {
		return err
	}
	if err := checkStruct(v, c.Deletion, "삭제(deletion)"); err != nil {
		return err
	}
	if err := checkStruct(v, c.Mail, "메일(mail)"); err != nil {
		return err
	}
	if err := checkStruct(v, c.OpsAlert.Telegram, "운영 알림(ops_alert.telegram)"); err != nil {
		return err
	}
	if err := checkStruct(v, c.HTTP, "HTTP(http)"); err != nil {
		return err
	}

	return nil
}

// VerifyRecommendations 강제하지는 않지만 운영상 위험할 수 있는 설정에 대한 경고 메시지를 반환합니다.
func (c *AppConfig) VerifyRecommendations() []string {
	var warnings []string

	if c.Storage.Driver == StorageDriverMemory {
		warnings = append(warnings, "메모리 저장소를 사용 중입니다. 프로세스가 재시작되면 삭제 예약 정보가 모두 사라집니다")
	}
	if !c.Mail.Enabled() {
		warnings = append(warnings, "메일(mail.host) 설정이 없습니다. 삭제 실패 알림이 요청자에게 발송되지 않습니다")
	}
	if c.Mail.Enabled() && c.Mail.TLSPolicy == TLSPolicyNone {
		warnings = append(warnings, "메일 서버와의 통신이 암호화되지 않습니다(mail.tls_policy=none)")
	}
	if c.HTTP.ListenPort < 1024 {
		warnings = append(warnings, fmt.Sprintf("시스템 예약 포트(1-1023)를 사용하도록 설정되었습니다(port: %d). 이 경우 서버 구동 시 관리자 권한이 필요할 수 있습니다", c.HTTP.ListenPort))
	}

	return warnings
}

// StorageConfig 엔티티와 삭제 예약 정보를 보관하는 저장소 설정
type StorageConfig struct {
	Driver      string        `json:"driver" validate:"oneof=memory sqlite"`
	Path        string        `json:"path" validate:"required_if=Driver sqlite"`
	BusyTimeout time.Duration `json:"busy_timeout" validate:"min=0s"`
}

// DeletionConfig 삭제 스윕 주기와 배치 크기 설정
type DeletionConfig struct {
	SweepTimeSpec string        `json:"sweep_time_spec" validate:"required,cron_spec"`
	BatchSize     int           `json:"batch_size" validate:"min=1,max=10000"`
	DefaultDelay  time.Duration `json:"default_delay" validate:"min=0s"`
}

// MailConfig 삭제 실패 알림 메일을 발송할 SMTP 서버 설정
//
// Host가 비어 있으면 메일 발송이 비활성화됩니다.
type MailConfig struct {
	Host      string `json:"host" validate:"omitempty,smtp_host"`
	Port      int    `json:"port" validate:"min=1,max=65535"`
	Username  string `json:"username"`
	Password  string `json:"password" validate:"required_with=Username"`
	From      string `json:"from" validate:"required_with=Host,omitempty,mail_address"`
	TLSPolicy string `json:"tls_policy" validate:"oneof=mandatory opportunistic none"`
}

// Enabled 메일 발송이 설정되었는지 여부를 반환합니다.
func (c MailConfig) Enabled() bool {
	return c.Host != ""
}

// OpsAlertConfig 요청자가 없는 삭제 실패를 운영자에게 전달할 채널 설정
type OpsAlertConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig 텔레그램 봇 토큰 및 채팅 ID 정보
//
// BotToken이 비어 있으면 운영 알림이 비활성화됩니다.
type TelegramConfig struct {
	BotToken string `json:"bot_token" validate:"omitempty,telegram_bot_token"`
	ChatID   int64  `json:"chat_id" validate:"required_with=BotToken"`
}

// Enabled 텔레그램 운영 알림이 설정되었는지 여부를 반환합니다.
func (c TelegramConfig) Enabled() bool {
	return c.BotToken != ""
}

// HTTPConfig 헬스체크/메트릭 HTTP 서버 설정
type HTTPConfig struct {
	ListenPort int `json:"listen_port" validate:"min=1,max=65535"`
}
