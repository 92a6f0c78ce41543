package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kidtalk.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoadDefaults 缺省字段要落到默认值。
func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
manager_api:
  url: http://localhost:8002/kidtalk
  secret: s3cret
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Manager.Timeout != 30*time.Second || cfg.Manager.MaxRetries != 6 {
		t.Fatalf("manager defaults wrong: %+v", cfg.Manager)
	}
	if cfg.Manager.RetryDelay != 10*time.Second {
		t.Fatalf("retry delay default wrong: %v", cfg.Manager.RetryDelay)
	}
	if cfg.Teaching.DefaultMaxUserReplies != 3 || cfg.Teaching.DefaultTimeoutSeconds != 20 {
		t.Fatalf("teaching defaults wrong: %+v", cfg.Teaching)
	}
	if cfg.Teaching.WarningRatio != 0.7 || cfg.Teaching.FinalRatio != 0.9 {
		t.Fatalf("ratio defaults wrong: %+v", cfg.Teaching)
	}
	if cfg.Teaching.SessionTTL != 30*time.Minute {
		t.Fatalf("session ttl default wrong: %v", cfg.Teaching.SessionTTL)
	}
}

// TestEnvOverridesSecret 环境变量覆盖配置文件里的敏感信息。
func TestEnvOverridesSecret(t *testing.T) {
	path := writeConfig(t, `
manager_api:
  url: http://localhost:8002/kidtalk
  secret: from-file
`)
	t.Setenv("MANAGER_API_SECRET", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Manager.Secret != "from-env" {
		t.Fatalf("env override not applied: %q", cfg.Manager.Secret)
	}
}

// TestValidateRejectsMissingAuth 没有密钥也没有账号时拒绝启动。
func TestValidateRejectsMissingAuth(t *testing.T) {
	path := writeConfig(t, `
manager_api:
  url: http://localhost:8002/kidtalk
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error without secret or credentials")
	}
}

// TestValidateRejectsBadRatios 提示时间比例必须 0 < warning < final < 1。
func TestValidateRejectsBadRatios(t *testing.T) {
	path := writeConfig(t, `
manager_api:
  url: http://localhost:8002/kidtalk
  secret: s
teaching:
  warning_ratio: 0.95
  final_ratio: 0.9
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for inverted ratios")
	}
}
