package config

import (
	"time"

	"github.com/yndnr/meshstore/internal/storage"
)

// Default configuration values.
const (
	DefaultDataDir   = "./meshstore-data"
	DefaultAdminAddr = "127.0.0.1:5080"

	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 60 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Default returns the default configuration. Durability defaults to sync.
func Default() *ServerConfig {
	return &ServerConfig{
		DataDir: DefaultDataDir,
		Storage: StorageSection{
			Durability:         string(storage.DurabilitySync),
			SegmentSizeBytes:   storage.DefaultSegmentSizeBytes,
			MaxPayloadBytes:    storage.DefaultMaxPayloadBytes,
			MaxIdentifierBytes: storage.DefaultMaxIdentifierBytes,
			Compaction: CompactionConfig{
				Threshold:      storage.DefaultCompactionThreshold,
				Interval:       storage.DefaultCompactionInterval,
				BytesPerSecond: storage.DefaultCompactionBytesPerSecond,
			},
			SyncInterval: storage.DefaultSyncInterval,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Admin: AdminSection{
			Addr:         DefaultAdminAddr,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
		},
	}
}
