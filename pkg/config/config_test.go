package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
environment: development
server:
  port: 8080
  read_timeout: 10s
  write_timeout: 10s
  shutdown_timeout: 10s
sandbox:
  max_steps: 250000
  timeout: 250ms
  max_output_bytes: 16384
audit:
  enabled: true
  backend: kafka
  topic: captrades.audit
  batch_size: 64
  batch_timeout: 5s
feed:
  enabled: true
  source: websocket
  websocket_url: wss://feed.example.com
  channels: [signals.us]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sandbox.MaxSteps != 250000 {
		t.Fatalf("unexpected max_steps %d", cfg.Sandbox.MaxSteps)
	}
	if cfg.Audit.Backend != "kafka" {
		t.Fatalf("unexpected audit backend %q", cfg.Audit.Backend)
	}
}

func TestValidateRejectsUnknownAuditBackend(t *testing.T) {
	body := `
environment: production
audit:
  enabled: true
  backend: sqlite
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatalf("expected error for unknown audit backend")
	}
}

func TestValidateRequiresFeedTopicForKafkaSource(t *testing.T) {
	body := `
environment: production
feed:
  enabled: true
  source: kafka
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatalf("expected error for missing feed topic")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("AUDIT_TOPIC", "captrades.audit.override")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := LoadWithEnv(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audit.Topic != "captrades.audit.override" {
		t.Fatalf("env override not applied: %q", cfg.Audit.Topic)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
}
