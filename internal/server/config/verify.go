package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/yndnr/meshstore/internal/storage"
	"github.com/yndnr/meshstore/internal/storage/keyring"
	"github.com/yndnr/meshstore/internal/telemetry/logger"
	"github.com/yndnr/meshstore/pkg/crypto/adaptive"
)

// Verify validates the configuration and reports every problem found.
func Verify(cfg *ServerConfig) error {
	var errs []error
	if strings.TrimSpace(cfg.DataDir) == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if _, err := StorageOptions(cfg); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, verifyEncryption(&cfg.Encryption)...)
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", cfg.Log.Format))
	}
	errs = append(errs, verifyAdmin(&cfg.Admin)...)
	return errors.Join(errs...)
}

func verifyEncryption(cfg *EncryptionSection) []error {
	var errs []error
	set := 0
	for _, v := range []string{cfg.Key, cfg.KeyFile, cfg.Passphrase} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		errs = append(errs, errors.New("encryption: set only one of key, key_file and passphrase"))
	}
	switch adaptive.CipherType(cfg.Algorithm) {
	case "", adaptive.CipherAESGCM, adaptive.CipherChaCha20:
	default:
		errs = append(errs, fmt.Errorf("encryption.algorithm: unknown cipher %q", cfg.Algorithm))
	}
	if cfg.Key != "" {
		if _, err := adaptive.ParseKey(cfg.Key); err != nil {
			errs = append(errs, fmt.Errorf("encryption.key: %w", err))
		}
	}
	if cfg.Passphrase != "" && len(cfg.Passphrase) < keyring.MinPassphraseLength {
		errs = append(errs, keyring.ErrPassphraseTooWeak)
	}
	return errs
}

// maxSocketPath fits sun_path on both Linux and macOS.
const maxSocketPath = 103

func verifyAdmin(cfg *AdminSection) []error {
	var errs []error
	if cfg.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
			errs = append(errs, fmt.Errorf("admin.addr: %w", err))
		}
	}
	if len(cfg.Socket) > maxSocketPath {
		errs = append(errs, fmt.Errorf("admin.socket: path longer than %d bytes", maxSocketPath))
	}
	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 || cfg.IdleTimeout < 0 {
		errs = append(errs, errors.New("admin timeouts must not be negative"))
	}
	return errs
}

// StorageOptions converts the storage section into engine options. Logger,
// Observer and Cipher are left for the caller.
func StorageOptions(cfg *ServerConfig) (storage.Options, error) {
	d, err := storage.ParseDurability(cfg.Storage.Durability)
	if err != nil {
		return storage.Options{}, fmt.Errorf("storage.durability: %w", err)
	}
	s := cfg.Storage
	return storage.Options{
		SegmentSizeBytes:         s.SegmentSizeBytes,
		Durability:               d,
		MaxPayloadBytes:          s.MaxPayloadBytes,
		MaxIdentifierBytes:       s.MaxIdentifierBytes,
		MaxRecordsPerSegment:     s.MaxRecordsPerSegment,
		CompactionThreshold:      s.Compaction.Threshold,
		CompactionInterval:       s.Compaction.Interval,
		CompactionBytesPerSecond: s.Compaction.BytesPerSecond,
		SyncInterval:             s.SyncInterval,
	}, nil
}

// KeyringConfig resolves the encryption section into key material,
// reading KeyFile when set. The caller should zero the key after use.
func KeyringConfig(cfg *EncryptionSection) (keyring.Config, error) {
	kc := keyring.Config{Algorithm: adaptive.CipherType(cfg.Algorithm)}
	switch {
	case cfg.Passphrase != "":
		kc.Passphrase = []byte(cfg.Passphrase)
	case cfg.Key != "":
		key, err := adaptive.ParseKey(cfg.Key)
		if err != nil {
			return kc, fmt.Errorf("encryption.key: %w", err)
		}
		kc.Key = key
	case cfg.KeyFile != "":
		raw, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return kc, fmt.Errorf("encryption.key_file: %w", err)
		}
		key, err := adaptive.ParseKey(string(raw))
		if err != nil {
			return kc, fmt.Errorf("encryption.key_file %s: %w", cfg.KeyFile, err)
		}
		kc.Key = key
	}
	return kc, kc.Validate()
}
