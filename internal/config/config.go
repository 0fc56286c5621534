// Package config 애플리케이션 설정을 로드하고 검증합니다.
//
// 로드 우선순위 (뒤에 오는 것이 앞의 값을 덮어씁니다):
//  1. 코드에 정의된 기본값
//  2. JSON 설정 파일 (기본: deletion-server.json)
//  3. DELETION_ 접두사를 가진 환경 변수
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	apperrors "github.com/darkkaiser/deletion-server/internal/pkg/errors"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// AppName 애플리케이션의 전역 고유 식별자입니다.
	AppName string = "deletion-server"

	// DefaultFilename 실행 인자로 경로가 주어지지 않을 때 탐색하는 기본 설정 파일명입니다.
	DefaultFilename = AppName + ".json"

	// envPrefix 설정을 덮어쓰는 환경 변수의 접두사입니다.
	// 이중 언더스코어(__)는 계층 구분자로 사용됩니다. 예: DELETION_DELETION__BATCH_SIZE -> deletion.batch_size
	envPrefix = "DELETION_"
)

const (
	DefaultStorageDriver = StorageDriverMemory
	DefaultBusyTimeout   = 5 * time.Second
	DefaultSweepTimeSpec = "0 * * * * *"
	DefaultBatchSize     = 100
	DefaultDelay         = 30 * 24 * time.Hour
	DefaultMailPort      = 587
	DefaultTLSPolicy     = TLSPolicyMandatory
	DefaultListenPort    = 8080
)

// newDefaultConfig 모든 필드가 기본값으로 채워진 설정을 반환합니다.
func newDefaultConfig() AppConfig {
	return AppConfig{
		Debug: false,
		Storage: StorageConfig{
			Driver:      DefaultStorageDriver,
			BusyTimeout: DefaultBusyTimeout,
		},
		Deletion: DeletionConfig{
			SweepTimeSpec: DefaultSweepTimeSpec,
			BatchSize:     DefaultBatchSize,
			DefaultDelay:  DefaultDelay,
		},
		Mail: MailConfig{
			Port:      DefaultMailPort,
			TLSPolicy: DefaultTLSPolicy,
		},
		HTTP: HTTPConfig{
			ListenPort: DefaultListenPort,
		},
	}
}

// normalizeEnvKey 환경 변수 이름을 koanf 키 경로로 변환합니다.
func normalizeEnvKey(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

// Load 기본 설정 파일을 읽어 애플리케이션 설정을 로드합니다.
func Load() (*AppConfig, error) {
	return LoadWithFile(DefaultFilename)
}

// LoadWithFile 지정된 경로의 설정 파일을 읽어 AppConfig를 생성합니다.
// 파일이 존재하지 않으면 기본값과 환경 변수만으로 설정을 구성합니다.
func LoadWithFile(filename string) (*AppConfig, error) {
	k := koanf.New(".")

	// 1. 기본값
	if err := k.Load(structs.Provider(newDefaultConfig(), "json"), nil); err != nil {
		return nil, apperrors.Wrap(err, apperrors.System, "애플리케이션 기본 설정 로드에 실패했습니다")
	}

	// 2. JSON 설정 파일
	if filename != "" {
		if err := k.Load(file.Provider(filename), json.Parser()); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, apperrors.Wrap(err, apperrors.InvalidInput, fmt.Sprintf("설정 파일 로드 중 오류가 발생했습니다: '%s'", filename))
			}
		}
	}

	// 3. 환경 변수
	if err := k.Load(env.Provider(envPrefix, ".", normalizeEnvKey), nil); err != nil {
		return nil, apperrors.Wrap(err, apperrors.System, "환경 변수 로드에 실패했습니다")
	}

	// 4. 구조체 언마샬링
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "json",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			ErrorUnused:      true, // 구조체에 없는 키가 있으면 오타로 간주합니다.
			WeaklyTypedInput: true,
		},
	}
	var appConfig AppConfig
	unmarshalConf.DecoderConfig.Result = &appConfig
	if err := k.UnmarshalWithConf("", &appConfig, unmarshalConf); err != nil {
		return nil, apperrors.Wrap(err, apperrors.InvalidInput, "설정 데이터를 애플리케이션 구조체로 변환하는데 실패했습니다")
	}

	// 5. 유효성 검사
	if err := appConfig.validate(newValidator()); err != nil {
		return nil, apperrors.Wrap(err, apperrors.InvalidInput, fmt.Sprintf("설정('%s')의 유효성 검증에 실패했습니다", filename))
	}

	return &appConfig, nil
}
