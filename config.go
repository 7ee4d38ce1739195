package docstore

import "time"

// SyncMode controls how aggressively the WAL fsyncs.
type SyncMode int

const (
	// SyncFull fsyncs after every WAL write.
	SyncFull SyncMode = iota
	// SyncNormal fsyncs only on commit. Default.
	SyncNormal
	// SyncOff fsyncs only commit records; other writes are left to the OS.
	SyncOff
)

// WALConfig groups the write-ahead log's tunables.
type WALConfig struct {
	SyncMode                  SyncMode
	MaxFileSize               int64
	CheckpointIntervalBytes   int64
	CheckpointIntervalSeconds int64
	BufferSize                int
}

// RecoveryConfig groups recovery behavior.
type RecoveryConfig struct {
	DeleteWALAfterRecovery bool
	ThrowOnError           bool
}

// Config holds every recognized storage option. Zero-value Config is not
// valid; use DefaultConfig and override what you need.
type Config struct {
	// Collection names the catalog written when a new database file is
	// created. Ignored when reopening an existing file, whose catalog
	// already carries its own name.
	Collection string

	PageSize           uint32
	BufferPoolSize     int
	VerifyChecksums    bool
	EnableTransactions bool
	MaxEntitySize      int

	// EncryptionKey, when exactly 16 bytes, enables AES-GCM-128 envelope
	// encryption of record payloads. nil or empty disables encryption.
	EncryptionKey []byte

	WAL      WALConfig
	Recovery RecoveryConfig
}

// DefaultConfig returns the documented defaults from the storage contract.
func DefaultConfig() Config {
	return Config{
		PageSize:           4096,
		BufferPoolSize:     1024,
		VerifyChecksums:    true,
		EnableTransactions: true,
		MaxEntitySize:      1 << 20, // 1 MiB
		WAL: WALConfig{
			SyncMode:                  SyncNormal,
			MaxFileSize:               64 << 20, // 64 MiB
			CheckpointIntervalBytes:   16 << 20, // 16 MiB
			CheckpointIntervalSeconds: 60,
			BufferSize:                64 << 10, // 64 KiB
		},
		Recovery: RecoveryConfig{
			DeleteWALAfterRecovery: true,
			ThrowOnError:           true,
		},
	}
}

// Validate checks the config against the constraints the file format and
// component design impose.
func (c *Config) Validate() error {
	switch c.PageSize {
	case 4096, 8192, 16384, 32768:
	default:
		return ErrInvalidPageSize
	}

	if c.BufferPoolSize < 1 {
		c.BufferPoolSize = 1
	}

	if c.MaxEntitySize <= 0 {
		c.MaxEntitySize = 1 << 20
	}

	if len(c.EncryptionKey) != 0 && len(c.EncryptionKey) != 16 {
		return ErrCorrupted
	}

	if c.WAL.BufferSize <= 0 {
		c.WAL.BufferSize = 64 << 10
	}

	if c.WAL.CheckpointIntervalSeconds <= 0 {
		c.WAL.CheckpointIntervalSeconds = 60
	}

	return nil
}

func (c *Config) checkpointInterval() time.Duration {
	return time.Duration(c.WAL.CheckpointIntervalSeconds) * time.Second
}
