package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/executor"
	"codejudge/internal/judge/poller"
	"codejudge/internal/judge/service"
	"codejudge/internal/judge/verdict"
	"codejudge/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteSlack      = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaSection enables verdict events when brokers are set.
type KafkaSection struct {
	mq.KafkaConfig `yaml:",inline"`
	VerdictTopic   string `yaml:"verdictTopic"`
}

// MinIOSection enables the source archive when an endpoint is set.
type MinIOSection struct {
	storage.MinIOConfig `yaml:",inline"`
	SourcePrefix        string `yaml:"sourcePrefix"`
}

// JudgeConfig holds pipeline settings.
type JudgeConfig struct {
	EmptyPolicy  string                  `yaml:"emptyPolicy"`
	MaxCodeBytes int                     `yaml:"maxCodeBytes"`
	MaxInFlight  int                     `yaml:"maxInFlight"`
	SlotWait     time.Duration           `yaml:"slotWait"`
	RateLimit    service.RateLimitConfig `yaml:"rateLimit"`
	Timeouts     service.TimeoutConfig   `yaml:"timeouts"`

	// OffloadSource drops source_code from the ledger once the source is archived.
	OffloadSource bool `yaml:"offloadSource"`

	SubmissionCacheTTL time.Duration `yaml:"submissionCacheTTL"`
	SubmissionEmptyTTL time.Duration `yaml:"submissionEmptyTTL"`
	TestCaseCacheTTL   time.Duration `yaml:"testCaseCacheTTL"`
	TestCaseEmptyTTL   time.Duration `yaml:"testCaseEmptyTTL"`
}

// ContestConfig holds contest solution write settings.
type ContestConfig struct {
	LockTTL      time.Duration `yaml:"lockTTL"`
	LockWait     time.Duration `yaml:"lockWait"`
	LockAttempts int           `yaml:"lockAttempts"`
	CASAttempts  int           `yaml:"casAttempts"`
}

// AuthConfig holds access token settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwtSecret"`
	JWTIssuer string        `yaml:"jwtIssuer"`
	Timeout   time.Duration `yaml:"timeout"`
}

// AppConfig holds judge-api configuration.
type AppConfig struct {
	Server   ServerConfig      `yaml:"server"`
	Logger   logger.Config     `yaml:"logger"`
	Database db.MySQLConfig    `yaml:"database"`
	Redis    cache.RedisConfig `yaml:"redis"`
	Kafka    KafkaSection      `yaml:"kafka"`
	MinIO    MinIOSection      `yaml:"minio"`
	Executor executor.Config   `yaml:"executor"`
	Poll     poller.Config     `yaml:"poll"`
	Judge    JudgeConfig       `yaml:"judge"`
	Contest  ContestConfig     `yaml:"contest"`
	Auth     AuthConfig        `yaml:"auth"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadEnvFile loads envPath into the process environment. A missing file is not an error.
func loadEnvFile(envPath string) error {
	if envPath == "" {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file failed: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv("EXECUTOR_API_KEY")); v != "" {
		cfg.Executor.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("JWT_SECRET")); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Executor.BaseURL == "" {
		return nil, fmt.Errorf("executor baseURL is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if _, err := verdict.ParseEmptyPolicy(cfg.Judge.EmptyPolicy); err != nil {
		return nil, err
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = time.Second
	}
	if cfg.Poll.MaxAttempts == 0 && cfg.Poll.Timeout == 0 {
		cfg.Poll.MaxAttempts = 60
	}

	if cfg.Judge.MaxCodeBytes == 0 {
		cfg.Judge.MaxCodeBytes = 64 * 1024
	}
	if cfg.Judge.MaxInFlight == 0 {
		cfg.Judge.MaxInFlight = 64
	}
	if cfg.Judge.RateLimit.Window == 0 {
		cfg.Judge.RateLimit.Window = time.Minute
	}
	if cfg.Judge.RateLimit.UserMax == 0 {
		cfg.Judge.RateLimit.UserMax = 20
	}
	if cfg.Judge.Timeouts.DB == 0 {
		cfg.Judge.Timeouts.DB = 3 * time.Second
	}
	if cfg.Judge.Timeouts.Cache == 0 {
		cfg.Judge.Timeouts.Cache = time.Second
	}
	if cfg.Judge.Timeouts.MQ == 0 {
		cfg.Judge.Timeouts.MQ = 3 * time.Second
	}
	if cfg.Judge.Timeouts.Storage == 0 {
		cfg.Judge.Timeouts.Storage = 5 * time.Second
	}
	if cfg.Judge.SubmissionCacheTTL == 0 {
		cfg.Judge.SubmissionCacheTTL = 30 * time.Minute
	}
	if cfg.Judge.SubmissionEmptyTTL == 0 {
		cfg.Judge.SubmissionEmptyTTL = time.Minute
	}
	if cfg.Judge.TestCaseCacheTTL == 0 {
		cfg.Judge.TestCaseCacheTTL = 10 * time.Minute
	}
	if cfg.Judge.TestCaseEmptyTTL == 0 {
		cfg.Judge.TestCaseEmptyTTL = time.Minute
	}

	if cfg.Kafka.VerdictTopic == "" {
		cfg.Kafka.VerdictTopic = service.DefaultVerdictTopic
	}
	if cfg.Auth.JWTIssuer == "" {
		cfg.Auth.JWTIssuer = "codejudge"
	}

	return &cfg, nil
}

// writeTimeout keeps the HTTP write deadline above the worst case judging time.
func writeTimeout(configured, pollBound time.Duration) time.Duration {
	floor := pollBound + defaultWriteSlack
	if configured < floor {
		return floor
	}
	return configured
}
