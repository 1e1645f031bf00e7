package config

import (
	"errors"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/sirupsen/logrus"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"

	DispatchModeQueue  = "queue"
	DispatchModeInline = "inline"
)

type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`

	DBType     string `env:"DBType" envDefault:"sqlite"`
	DSNURL     string `env:"DSN_URL" envDefault:""`
	DBUser     string `env:"DBUser" envDefault:""`
	DBPassword string `env:"DBPassword" envDefault:""`
	DBAddr     string `env:"DBAddr" envDefault:""`
	DBName     string `env:"DBName" envDefault:"vidgenie"`
	DBPath     string `env:"DBPath" envDefault:"datas/vidgenie.db"`
	DBPort     string `env:"DBPort" envDefault:"3306"`

	StorageType          string `env:"STORAGE_TYPE" envDefault:"local"`
	StorageLocalDir      string `env:"STORAGE_LOCAL_DIR" envDefault:"datas/assets"`
	StoragePublicBaseURL string `env:"STORAGE_PUBLIC_BASE_URL" envDefault:"/files"`

	// S3 兼容存储配置
	StorageS3Region          string `env:"STORAGE_S3_REGION"`
	StorageS3Bucket          string `env:"STORAGE_S3_BUCKET"`
	StorageS3Prefix          string `env:"STORAGE_S3_PREFIX"`
	StorageS3Endpoint        string `env:"STORAGE_S3_ENDPOINT"`
	StorageS3AccessKeyID     string `env:"STORAGE_S3_ACCESS_KEY_ID"`
	StorageS3SecretAccessKey string `env:"STORAGE_S3_SECRET_ACCESS_KEY"`
	StorageS3SessionToken    string `env:"STORAGE_S3_SESSION_TOKEN"`
	StorageS3ForcePathStyle  bool   `env:"STORAGE_S3_FORCE_PATH_STYLE" envDefault:"false"`

	// 阿里云 OSS 存储配置
	StorageOSSEndpoint        string `env:"STORAGE_OSS_ENDPOINT"`
	StorageOSSBucket          string `env:"STORAGE_OSS_BUCKET"`
	StorageOSSPrefix          string `env:"STORAGE_OSS_PREFIX"`
	StorageOSSAccessKeyID     string `env:"STORAGE_OSS_ACCESS_KEY_ID"`
	StorageOSSAccessKeySecret string `env:"STORAGE_OSS_ACCESS_KEY_SECRET"`

	// 腾讯云 COS 存储配置
	StorageCOSBucketURL string `env:"STORAGE_COS_BUCKET_URL"`
	StorageCOSPrefix    string `env:"STORAGE_COS_PREFIX"`
	StorageCOSSecretID  string `env:"STORAGE_COS_SECRET_ID"`
	StorageCOSSecretKey string `env:"STORAGE_COS_SECRET_KEY"`

	// Cloudflare R2 存储配置
	StorageR2AccountID       string `env:"STORAGE_R2_ACCOUNT_ID"`
	StorageR2Endpoint        string `env:"STORAGE_R2_ENDPOINT"`
	StorageR2Region          string `env:"STORAGE_R2_REGION" envDefault:"auto"`
	StorageR2Bucket          string `env:"STORAGE_R2_BUCKET"`
	StorageR2Prefix          string `env:"STORAGE_R2_PREFIX"`
	StorageR2AccessKeyID     string `env:"STORAGE_R2_ACCESS_KEY_ID"`
	StorageR2SecretAccessKey string `env:"STORAGE_R2_SECRET_ACCESS_KEY"`

	// MinIO 存储配置
	StorageMinIOEndpoint  string `env:"STORAGE_MINIO_ENDPOINT" envDefault:"localhost:9000"`
	StorageMinIOBucket    string `env:"STORAGE_MINIO_BUCKET" envDefault:"vidgenie"`
	StorageMinIOPrefix    string `env:"STORAGE_MINIO_PREFIX"`
	StorageMinIOAccessKey string `env:"STORAGE_MINIO_ACCESS_KEY"`
	StorageMinIOSecretKey string `env:"STORAGE_MINIO_SECRET_KEY"`
	StorageMinIOUseSSL    bool   `env:"STORAGE_MINIO_USE_SSL" envDefault:"false"`

	// 生成服务商
	ImageProvider    string `env:"IMAGE_PROVIDER" envDefault:"fake"`
	VideoProvider    string `env:"VIDEO_PROVIDER" envDefault:"fake"`
	ImageModel       string `env:"IMAGE_MODEL" envDefault:""`
	VideoModel       string `env:"VIDEO_MODEL" envDefault:""`
	OpenAIAPIKey     string `env:"OPENAI_API_KEY" envDefault:""`
	OpenAIBaseURL    string `env:"OPENAI_BASE_URL" envDefault:""`
	VolcengineAPIKey string `env:"VOLCENGINE_API_KEY" envDefault:""`

	// 内容审核
	ModerationProvider  string   `env:"MODERATION_PROVIDER" envDefault:"keyword"`
	ModerationBlocklist []string `env:"MODERATION_BLOCKLIST" envSeparator:","`
	PromptMinLength     int      `env:"PROMPT_MIN_LENGTH" envDefault:"3"`
	PromptMaxLength     int      `env:"PROMPT_MAX_LENGTH" envDefault:"2000"`

	// 任务分发
	DispatchMode            string        `env:"DISPATCH_MODE" envDefault:"queue"`
	DispatchFallbackEnabled bool          `env:"DISPATCH_FALLBACK_ENABLED" envDefault:"false"`
	DevFallbackDelay        time.Duration `env:"DEV_FALLBACK_DELAY" envDefault:"2s"`
	WorkerConcurrency       int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	WorkerPollInterval      time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1s"`
	WorkerTimeout           time.Duration `env:"WORKER_TIMEOUT" envDefault:"10m"`

	// 回调
	WebhookSecret        string `env:"WEBHOOK_SECRET" envDefault:""`
	WebhookAllowUnsigned bool   `env:"WEBHOOK_ALLOW_UNSIGNED" envDefault:"false"`
	WebhookCallbackURL   string `env:"WEBHOOK_CALLBACK_URL" envDefault:"http://localhost:8080/api/webhooks/video"`

	// 维护任务
	SweeperSchedule   string        `env:"SWEEPER_SCHEDULE" envDefault:"@every 1m"`
	JobStaleAfter     time.Duration `env:"JOB_STALE_AFTER" envDefault:"30m"`
	DispatchRetention time.Duration `env:"DISPATCH_RETENTION" envDefault:"168h"`

	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"20"`
	RateLimitBurst     int `env:"RATE_LIMIT_BURST" envDefault:"5"`

	DemoUserEmail    string `env:"DEMO_USER_EMAIL" envDefault:"demo@vidgenie.local"`
	DemoUserPassword string `env:"DEMO_USER_PASSWORD" envDefault:"demo-password"`
	DemoUserCredits  int64  `env:"DEMO_USER_CREDITS" envDefault:"100"`

	SignupBonusCredits int64 `env:"SIGNUP_BONUS_CREDITS" envDefault:"10"`

	JWTSecret            string `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	JWTIssuer            string `env:"JWT_ISSUER" envDefault:"vidgenie"`
	JWTExpirationMinutes int    `env:"JWT_EXPIRATION_MINUTES" envDefault:"1440"`
}

// IsProduction 是否为生产环境
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), EnvProduction)
}

// Validate 校验生产环境下不允许的开发期配置
func (c Config) Validate() error {
	if !c.IsProduction() {
		return nil
	}
	var problems []string
	if strings.EqualFold(c.DispatchMode, DispatchModeInline) {
		problems = append(problems, "inline dispatch is development only")
	}
	if c.DispatchFallbackEnabled {
		problems = append(problems, "dispatch fallback is development only")
	}
	if strings.TrimSpace(c.WebhookSecret) == "" {
		problems = append(problems, "WEBHOOK_SECRET is required")
	}
	if c.WebhookAllowUnsigned {
		problems = append(problems, "unsigned webhooks are development only")
	}
	for _, name := range []string{c.ImageProvider, c.VideoProvider, c.ModerationProvider} {
		if strings.EqualFold(strings.TrimSpace(name), "fake") {
			problems = append(problems, "fake collaborators are development only")
			break
		}
	}
	if strings.TrimSpace(c.JWTSecret) == "dev-secret-change-me" {
		problems = append(problems, "JWT_SECRET must be changed")
	}
	if len(problems) > 0 {
		return errors.New("invalid production config: " + strings.Join(problems, "; "))
	}
	return nil
}

func ParseConfig() (Config, error) {
	var Conf Config
	err := env.Parse(&Conf)
	if err != nil {
		logrus.WithError(err).Error("env.Parse error")
		return Config{}, err
	}
	if err := Conf.Validate(); err != nil {
		return Config{}, err
	}
	logrus.Debugf("%#v\n", Conf)
	return Conf, nil
}
