package config

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	apperrors "github.com/darkkaiser/deletion-server/internal/pkg/errors"
	"github.com/darkkaiser/deletion-server/pkg/cronx"
	"github.com/darkkaiser/deletion-server/pkg/validation"
	"github.com/go-playground/validator/v10"
)

var (
	// 텔레그램 봇 토큰 형식 (예: 123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11)
	telegramBotTokenRegex = regexp.MustCompile(`^\d{3,20}:[a-zA-Z0-9_-]{30,50}$`)
)

// newValidator 커스텀 유효성 검사 함수가 등록된 Validator를 생성합니다.
func newValidator() *validator.Validate {
	v := validator.New()

	// 에러 메시지에 구조체 필드명 대신 JSON 이름을 사용합니다.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	custom := map[string]validator.Func{
		"cron_spec":          validateCronSpec,
		"smtp_host":          validateSMTPHost,
		"mail_address":       validateMailAddress,
		"telegram_bot_token": validateTelegramBotToken,
	}
	for tag, fn := range custom {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("초기화 치명적 오류: '%s' 커스텀 유효성 검사 함수 등록에 실패했습니다: %v", tag, err))
		}
	}

	return v
}

func validateCronSpec(fl validator.FieldLevel) bool {
	return cronx.Validate(fl.Field().String()) == nil
}

func validateSMTPHost(fl validator.FieldLevel) bool {
	return validation.ValidateHostname(fl.Field().String()) == nil
}

func validateMailAddress(fl validator.FieldLevel) bool {
	return validation.ValidateEmailAddress(fl.Field().String()) == nil
}

func validateTelegramBotToken(fl validator.FieldLevel) bool {
	return telegramBotTokenRegex.MatchString(fl.Field().String())
}

// checkStruct 구조체의 유효성을 검사하고, 첫 번째 위반 항목을 사용자 친화적인 에러로 변환합니다.
func checkStruct(v *validator.Validate, s any, contextName string) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.Wrap(err, apperrors.InvalidInput, fmt.Sprintf("%s 유효성 검증에 실패했습니다", contextName))
	}

	firstErr := validationErrors[0]

	switch firstErr.Tag() {
	case "cron_spec":
		return apperrors.New(apperrors.InvalidInput, fmt.Sprintf("%s의 스윕 주기(%s)가 올바른 cron 표현식이 아닙니다: '%v' (형식: 초 분 시 일 월 요일)", contextName, firstErr.Field(), firstErr.Value()))
	case "smtp_host":
		return apperrors.New(apperrors.InvalidInput, fmt.Sprintf("%s의 SMTP 호스트 형식이 올바르지 않습니다: '%v'", contextName, firstErr.Value()))
	case "mail_address":
		return apperrors.New(apperrors.InvalidInput, fmt.Sprintf("%s의 발신 주소(%s) 형식이 올바르지 않습니다: '%v'", contextName, firstErr.Field(), firstErr.Value()))
	case "telegram_bot_token":
		return apperrors.New(apperrors.InvalidInput, "텔레그램 BotToken 형식이 올바르지 않습니다 (올바른 형식: 123456:ABC-DEF...)")
	case "required_if", "required_with":
		return apperrors.New(apperrors.InvalidInput, fmt.Sprintf("%s의 %s 값이 필요합니다 (조건: %s %s)", contextName, firstErr.Field(), firstErr.Tag(), firstErr.Param()))
	}

	return apperrors.New(apperrors.InvalidInput, fmt.Sprintf("%s의 설정이 올바르지 않습니다: %s (조건: %s)", contextName, firstErr.Field(), firstErr.Tag()))
}
