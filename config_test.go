package docstore

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsBadPageSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PageSize = 777
	if err := cfg.Validate(); err != ErrInvalidPageSize {
		t.Fatalf("err = %v, want ErrInvalidPageSize", err)
	}
}

func TestValidateRejectsBadEncryptionKeyLength(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EncryptionKey = []byte("too-short")
	if err := cfg.Validate(); err != ErrCorrupted {
		t.Fatalf("err = %v, want ErrCorrupted", err)
	}
}

func TestValidateNormalizesZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferPoolSize = 0
	cfg.MaxEntitySize = 0
	cfg.WAL.BufferSize = 0
	cfg.WAL.CheckpointIntervalSeconds = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.BufferPoolSize < 1 {
		t.Fatalf("BufferPoolSize = %d, want >= 1", cfg.BufferPoolSize)
	}
	if cfg.MaxEntitySize <= 0 {
		t.Fatalf("MaxEntitySize = %d, want > 0", cfg.MaxEntitySize)
	}
	if cfg.WAL.BufferSize <= 0 {
		t.Fatalf("WAL.BufferSize = %d, want > 0", cfg.WAL.BufferSize)
	}
	if cfg.WAL.CheckpointIntervalSeconds <= 0 {
		t.Fatalf("WAL.CheckpointIntervalSeconds = %d, want > 0", cfg.WAL.CheckpointIntervalSeconds)
	}
}
