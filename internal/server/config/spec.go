package config

import "time"

// ServerConfig is the root configuration for meshstore.
type ServerConfig struct {
	DataDir    string            `koanf:"data_dir" yaml:"data_dir" json:"data_dir"`
	Storage    StorageSection    `koanf:"storage" yaml:"storage" json:"storage"`
	Encryption EncryptionSection `koanf:"encryption" yaml:"encryption" json:"encryption"`
	Log        LogSection        `koanf:"log" yaml:"log" json:"log"`
	Admin      AdminSection      `koanf:"admin" yaml:"admin" json:"admin"`
}

// StorageSection configures the storage engine.
type StorageSection struct {
	// Durability is "sync" or "buffered".
	Durability string `koanf:"durability" yaml:"durability" json:"durability"`

	SegmentSizeBytes     int64 `koanf:"segment_size_bytes" yaml:"segment_size_bytes" json:"segment_size_bytes"`
	MaxPayloadBytes      int   `koanf:"max_payload_bytes" yaml:"max_payload_bytes" json:"max_payload_bytes"`
	MaxIdentifierBytes   int   `koanf:"max_identifier_bytes" yaml:"max_identifier_bytes" json:"max_identifier_bytes"`
	MaxRecordsPerSegment int   `koanf:"max_records_per_segment" yaml:"max_records_per_segment" json:"max_records_per_segment"`

	Compaction CompactionConfig `koanf:"compaction" yaml:"compaction" json:"compaction"`

	// SyncInterval is the background flush period in buffered mode.
	SyncInterval time.Duration `koanf:"sync_interval" yaml:"sync_interval" json:"sync_interval"`
}

// CompactionConfig configures segment compaction.
type CompactionConfig struct {
	Threshold      float64       `koanf:"threshold" yaml:"threshold" json:"threshold"`
	Interval       time.Duration `koanf:"interval" yaml:"interval" json:"interval"`
	BytesPerSecond int64         `koanf:"bytes_per_second" yaml:"bytes_per_second" json:"bytes_per_second"`
}

// EncryptionSection configures payload encryption at rest. At most one of
// Key, KeyFile and Passphrase may be set.
type EncryptionSection struct {
	// Key is a hex or base64 encoded 32-byte key.
	Key string `koanf:"key" yaml:"key" json:"key"`

	// KeyFile holds the encoded key.
	KeyFile string `koanf:"key_file" yaml:"key_file" json:"key_file"`

	// Passphrase is stretched with argon2id.
	Passphrase string `koanf:"passphrase" yaml:"passphrase" json:"passphrase"`

	// Algorithm is "aes-gcm", "chacha20-poly1305" or empty for auto.
	Algorithm string `koanf:"algorithm" yaml:"algorithm" json:"algorithm"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" yaml:"level" json:"level"`
	Format string `koanf:"format" yaml:"format" json:"format"`
}

// AdminSection configures the admin listeners used by serve. Socket, when
// set, also serves the admin API plus local-only operations on a Unix
// domain socket.
type AdminSection struct {
	Addr         string        `koanf:"addr" yaml:"addr" json:"addr"`
	Socket       string        `koanf:"socket" yaml:"socket" json:"socket"`
	ReadTimeout  time.Duration `koanf:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout" yaml:"idle_timeout" json:"idle_timeout"`
}
