package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"peregovorka/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("PEREGOVORKA_DB", "test.db")

	yamlContent := `
database:
  path: "${PEREGOVORKA_DB}"
locking:
  ttl: 5s
approval:
  rooms: ["board"]
  max_duration_without_approval: 2h
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Path != "test.db" {
		t.Errorf("expected database path test.db, got %s", cfg.Database.Path)
	}
	if cfg.Locking.TTL != 5*time.Second {
		t.Errorf("expected lock ttl 5s, got %s", cfg.Locking.TTL)
	}
	if cfg.Locking.Backend != LockBackendMemory {
		t.Errorf("expected default backend memory, got %s", cfg.Locking.Backend)
	}
	if len(cfg.Approval.Rooms) != 1 || cfg.Approval.Rooms[0] != "board" {
		t.Errorf("expected approval room board, got %v", cfg.Approval.Rooms)
	}
	if cfg.Approval.MaxDurationWithoutApproval != 2*time.Hour {
		t.Errorf("expected 2h, got %s", cfg.Approval.MaxDurationWithoutApproval)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Locking:  LockingConfig{Backend: LockBackendMemory},
			},
			wantErr: false,
		},
		{
			name: "missing database path",
			cfg: Config{
				Locking: LockingConfig{Backend: LockBackendMemory},
			},
			wantErr: true,
		},
		{
			name: "redis backend without address",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Locking:  LockingConfig{Backend: LockBackendRedis},
			},
			wantErr: true,
		},
		{
			name: "unknown backend",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Locking:  LockingConfig{Backend: "etcd"},
			},
			wantErr: true,
		},
		{
			name: "kafka without topic",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Locking:  LockingConfig{Backend: LockBackendMemory},
				Kafka:    KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}},
			},
			wantErr: true,
		},
		{
			name: "telegram without chat",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Locking:  LockingConfig{Backend: LockBackendMemory},
				Telegram: TelegramConfig{Enabled: true, BotToken: "token"},
			},
			wantErr: true,
		},
		{
			name: "auth without keys",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Locking:  LockingConfig{Backend: LockBackendMemory},
				API:      APIConfig{Auth: APIAuthConfig{Enabled: true}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Booking.MaxDuration != models.DefaultMaxBookingDuration {
		t.Errorf("expected default max duration %s, got %s", models.DefaultMaxBookingDuration, cfg.Booking.MaxDuration)
	}
	if cfg.Locking.Wait != models.DefaultLockWait {
		t.Errorf("expected default lock wait %s, got %s", models.DefaultLockWait, cfg.Locking.Wait)
	}
	if cfg.API.GRPC.Port != 8081 {
		t.Errorf("expected default gRPC port 8081, got %d", cfg.API.GRPC.Port)
	}
	if cfg.Outbox.BatchSize != models.OutboxBatchSize {
		t.Errorf("expected default batch size %d, got %d", models.OutboxBatchSize, cfg.Outbox.BatchSize)
	}
	if p := cfg.Database.Retry.Policy(); p.MaxRetries != 5 || p.BackoffFactor != 2 {
		t.Errorf("unexpected retry policy %+v", p)
	}
}

func TestValidateApprovalRooms(t *testing.T) {
	tests := []struct {
		name    string
		rooms   []string
		wantErr bool
	}{
		{name: "Valid rooms", rooms: []string{"a", "b"}, wantErr: false},
		{name: "Duplicate", rooms: []string{"a", "a"}, wantErr: true},
		{name: "Empty id", rooms: []string{""}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateApprovalRooms(tt.rooms)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateApprovalRooms() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
