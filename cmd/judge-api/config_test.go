package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
database:
  dsn: "judge:judge@tcp(127.0.0.1:3306)/codejudge?parseTime=true"
redis:
  addr: "127.0.0.1:6379"
executor:
  baseURL: "http://127.0.0.1:2358"
auth:
  jwtSecret: "from-file"
poll:
  interval: 500ms
  maxAttempts: 10
judge:
  emptyPolicy: reject
  rateLimit:
    userMax: 3
    window: 30s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "judge_api.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppConfigDefaults(t *testing.T) {
	cfg, err := loadAppConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Addr != defaultHTTPAddr {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Poll.Interval != 500*time.Millisecond || cfg.Poll.MaxAttempts != 10 {
		t.Fatalf("unexpected poll config: %+v", cfg.Poll)
	}
	if cfg.Judge.RateLimit.UserMax != 3 || cfg.Judge.RateLimit.Window != 30*time.Second {
		t.Fatalf("unexpected rate limit: %+v", cfg.Judge.RateLimit)
	}
	if cfg.Judge.Timeouts.DB != 3*time.Second || cfg.Judge.MaxInFlight != 64 {
		t.Fatalf("defaults not applied: %+v", cfg.Judge)
	}
	if cfg.Kafka.VerdictTopic != "judge.verdict.final" || cfg.Auth.JWTIssuer != "codejudge" {
		t.Fatalf("defaults not applied: %+v %+v", cfg.Kafka, cfg.Auth)
	}
}

func TestLoadAppConfigEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("EXECUTOR_API_KEY", "rapid-key")
	t.Setenv("DATABASE_DSN", "other:pw@tcp(db:3306)/codejudge?parseTime=true")
	t.Setenv("REDIS_PASSWORD", "hunter2")

	cfg, err := loadAppConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" || cfg.Executor.APIKey != "rapid-key" {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Auth, cfg.Executor)
	}
	if cfg.Database.DSN != "other:pw@tcp(db:3306)/codejudge?parseTime=true" || cfg.Redis.Password != "hunter2" {
		t.Fatalf("env overrides not applied")
	}
}

func TestLoadAppConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{name: "missing dsn", content: "redis:\n  addr: x\nexecutor:\n  baseURL: http://x\nauth:\n  jwtSecret: s\n"},
		{name: "missing executor", content: "database:\n  dsn: d\nredis:\n  addr: x\nauth:\n  jwtSecret: s\n"},
		{name: "missing secret", content: "database:\n  dsn: d\nredis:\n  addr: x\nexecutor:\n  baseURL: http://x\n"},
		{name: "bad empty policy", content: sampleConfig + "  emptyPolicy: maybe\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			t.Setenv("DATABASE_DSN", "")
			if _, err := loadAppConfig(writeConfig(t, tc.content)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadEnvFileMissingIsIgnored(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CODEJUDGE_TEST_VALUE=loaded\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("CODEJUDGE_TEST_VALUE", "")
	os.Unsetenv("CODEJUDGE_TEST_VALUE")
	if err := loadEnvFile(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("CODEJUDGE_TEST_VALUE"); got != "loaded" {
		t.Fatalf("unexpected env value: %q", got)
	}
}

func TestWriteTimeoutCoversPollBound(t *testing.T) {
	if got := writeTimeout(5*time.Second, time.Minute); got != time.Minute+defaultWriteSlack {
		t.Fatalf("write timeout should be raised, got %v", got)
	}
	if got := writeTimeout(10*time.Minute, time.Minute); got != 10*time.Minute {
		t.Fatalf("larger write timeout should be kept, got %v", got)
	}
}
