package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const baseConfig = `port: "8090"
databaseURL: "postgres://localhost/plantcare"
redisAddr: "localhost:6379"
internalToken: "secret"
minioEndpoint: "localhost:9000"
minioAccessKey: "minioadmin"
minioSecretKey: "minioadmin"
minioBucket: "plant-images"
queueConcurrency: 2
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("PLANTCARE_CASCADE_CONCURRENCY", "8")

	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("redisAddr = %q", cfg.RedisAddr)
	}
	if cfg.QueueConcurrency != 8 {
		t.Fatalf("queueConcurrency = %d, want 8", cfg.QueueConcurrency)
	}
}

func TestLoadInternalTokenFromEnv(t *testing.T) {
	t.Setenv("PLANTCARE_INTERNAL_TOKEN", "from-env")
	body := strings.Replace(baseConfig, `internalToken: "secret"`+"\n", "", 1)

	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InternalToken != "from-env" {
		t.Fatalf("internalToken = %q", cfg.InternalToken)
	}
}

func TestLoadRejectsMissingFields(t *testing.T) {
	t.Setenv("PLANTCARE_INTERNAL_TOKEN", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PLANTCARE_CASCADE_PORT", "")
	t.Setenv("MINIO_BUCKET", "")
	tests := []struct {
		name   string
		remove string
		want   string
	}{
		{name: "port", remove: `port: "8090"`, want: "port is required"},
		{name: "database", remove: `databaseURL: "postgres://localhost/plantcare"`, want: "databaseURL is required"},
		{name: "token", remove: `internalToken: "secret"`, want: "internalToken is required"},
		{name: "bucket", remove: `minioBucket: "plant-images"`, want: "minioBucket is required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body := strings.Replace(baseConfig, tc.remove+"\n", "", 1)
			_, err := Load(writeConfig(t, body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load() error = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestLoadRejectsInvalidQueueSettings(t *testing.T) {
	tests := []struct {
		name  string
		extra string
		want  string
	}{
		{name: "negative retry delay", extra: "queueRetryDelaySeconds: -1\n", want: "queue settings must be >= 0"},
		{name: "retries above one", extra: "queueMaxRetries: 3\n", want: "queueMaxRetries must be 0 or 1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, baseConfig+tc.extra))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load() error = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestLoadAcceptsSingleAttempt(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig+"queueMaxRetries: 1\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.QueueMaxRetries != 1 {
		t.Fatalf("queueMaxRetries = %d, want 1", cfg.QueueMaxRetries)
	}
}
