package ftpcore

import (
	"testing"
	"time"
)

func TestConfigPort(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"default cleartext", Config{}, 21},
		{"default explicit", Config{Encryption: EncryptionExplicit}, 21},
		{"default implicit", Config{Encryption: EncryptionImplicit}, 990},
		{"explicit override", Config{Port: 2121}, 2121},
		{"implicit override", Config{Encryption: EncryptionImplicit, Port: 2121}, 2121},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.port(); got != tt.want {
				t.Errorf("port() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConfigFillDefaults(t *testing.T) {
	t.Parallel()
	cfg := &Config{Host: "ftp.example.com"}
	cfg.fillDefaults()

	if cfg.User != "anonymous" || cfg.Password != "anonymous" {
		t.Errorf("credentials = %q/%q, want anonymous/anonymous", cfg.User, cfg.Password)
	}
	if cfg.ConnectTimeout != 30*time.Second {
		t.Errorf("ConnectTimeout = %v, want 30s", cfg.ConnectTimeout)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout = %v, want 30s", cfg.ReadTimeout)
	}
	if cfg.DataConnectTimeout != cfg.ConnectTimeout {
		t.Errorf("DataConnectTimeout = %v, want %v", cfg.DataConnectTimeout, cfg.ConnectTimeout)
	}
	if cfg.DataReadTimeout != cfg.ReadTimeout {
		t.Errorf("DataReadTimeout = %v, want %v", cfg.DataReadTimeout, cfg.ReadTimeout)
	}
	if cfg.PollInterval != 15*time.Second {
		t.Errorf("PollInterval = %v, want 15s", cfg.PollInterval)
	}
	if cfg.TransferChunkSize != 64*1024 {
		t.Errorf("TransferChunkSize = %d, want 65536", cfg.TransferChunkSize)
	}
	if cfg.RetryAttempts != 1 {
		t.Errorf("RetryAttempts = %d, want 1", cfg.RetryAttempts)
	}
}

func TestConfigFillDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Host:           "ftp.example.com",
		User:           "alice",
		Password:       "secret",
		ConnectTimeout: 5 * time.Second,
		PollInterval:   -1,
		RetryAttempts:  3,
	}
	cfg.fillDefaults()

	if cfg.User != "alice" || cfg.Password != "secret" {
		t.Errorf("credentials = %q/%q, want alice/secret", cfg.User, cfg.Password)
	}
	if cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v, want 5s", cfg.ConnectTimeout)
	}
	if cfg.DataConnectTimeout != 5*time.Second {
		t.Errorf("DataConnectTimeout = %v, want 5s", cfg.DataConnectTimeout)
	}
	// Negative disables polling and must survive normalization.
	if cfg.PollInterval != -1 {
		t.Errorf("PollInterval = %v, want -1", cfg.PollInterval)
	}
	if cfg.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3", cfg.RetryAttempts)
	}
}
