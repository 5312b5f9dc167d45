package keyring

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/yndnr/meshstore/internal/storage/segment"
	"github.com/yndnr/meshstore/pkg/crypto/adaptive"
)

// FileName is the key metadata file in the data directory.
const FileName = "KEYRING"

const (
	// MinKeyLength is the minimum raw master key length.
	MinKeyLength = 16

	// MinPassphraseLength is the minimum passphrase length.
	MinPassphraseLength = 8

	// SaltLength is the Argon2id salt length.
	SaltLength = 16

	formatVersion = 1
	checkLength   = 16

	kdfRaw      = "raw"
	kdfArgon2id = "argon2id"

	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32

	infoPayload = "meshstore payload key v1"
	infoCheck   = "meshstore key check v1"
)

var (
	ErrKeyTooShort       = errors.New("keyring: encryption key too short (minimum 16 bytes)")
	ErrPassphraseTooWeak = errors.New("keyring: passphrase too weak (minimum 8 characters)")
	ErrKeyMismatch       = errors.New("keyring: key does not match the data directory")
	ErrKeyRequired       = errors.New("keyring: data directory is encrypted but no key was given")
	ErrPlaintextStore    = errors.New("keyring: data directory already holds unencrypted segments")
	ErrAlgorithmMismatch = errors.New("keyring: algorithm differs from the one the data directory was created with")
)

// Config selects the master key. Passphrase takes precedence over Key.
// An empty Config means no encryption.
type Config struct {
	Key        []byte
	Passphrase []byte

	// Algorithm is fixed when the keyring is created. Empty picks the
	// fastest cipher for the CPU.
	Algorithm adaptive.CipherType
}

// Enabled reports whether cfg configures a key.
func (cfg Config) Enabled() bool {
	return len(cfg.Key) > 0 || len(cfg.Passphrase) > 0
}

// Validate checks key and passphrase lengths.
func (cfg Config) Validate() error {
	if len(cfg.Passphrase) > 0 {
		if len(cfg.Passphrase) < MinPassphraseLength {
			return ErrPassphraseTooWeak
		}
		return nil
	}
	if len(cfg.Key) > 0 && len(cfg.Key) < MinKeyLength {
		return ErrKeyTooShort
	}
	return nil
}

type metadata struct {
	Version   int    `json:"version"`
	Algorithm string `json:"algorithm"`
	KDF       string `json:"kdf"`
	Salt      []byte `json:"salt,omitempty"`
	Check     []byte `json:"check"`
	CreatedAt int64  `json:"created_at"`
}

// Open returns the payload cipher for dir, or nil when dir is not
// encrypted and cfg configures no key. The first keyed open of an empty
// directory writes the KEYRING file.
func Open(dir string, cfg Config) (adaptive.Cipher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	meta, err := readMetadata(dir)
	if err != nil {
		return nil, err
	}

	if !cfg.Enabled() {
		if meta != nil {
			return nil, ErrKeyRequired
		}
		return nil, nil
	}

	if meta == nil {
		return create(dir, cfg)
	}

	if cfg.Algorithm != "" && string(cfg.Algorithm) != meta.Algorithm {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrAlgorithmMismatch, meta.Algorithm, cfg.Algorithm)
	}
	master, err := masterKey(cfg, meta.KDF, meta.Salt)
	if err != nil {
		return nil, err
	}
	defer ZeroKey(master)

	check, err := DeriveSubkey(master, infoCheck, checkLength)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(check, meta.Check) != 1 {
		return nil, ErrKeyMismatch
	}
	return payloadCipher(master, adaptive.CipherType(meta.Algorithm))
}

func create(dir string, cfg Config) (adaptive.Cipher, error) {
	hasSegments, err := containsSegments(dir)
	if err != nil {
		return nil, err
	}
	if hasSegments {
		return nil, ErrPlaintextStore
	}

	meta := &metadata{
		Version:   formatVersion,
		KDF:       kdfRaw,
		CreatedAt: time.Now().UnixMilli(),
	}
	if len(cfg.Passphrase) > 0 {
		meta.KDF = kdfArgon2id
		meta.Salt = make([]byte, SaltLength)
		if _, err := rand.Read(meta.Salt); err != nil {
			return nil, fmt.Errorf("keyring: generate salt: %w", err)
		}
	}

	master, err := masterKey(cfg, meta.KDF, meta.Salt)
	if err != nil {
		return nil, err
	}
	defer ZeroKey(master)

	c, err := payloadCipher(master, cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	meta.Algorithm = string(c.Type())
	if meta.Check, err = DeriveSubkey(master, infoCheck, checkLength); err != nil {
		return nil, err
	}
	if err := writeMetadata(dir, meta); err != nil {
		return nil, err
	}
	return c, nil
}

func masterKey(cfg Config, kdf string, salt []byte) ([]byte, error) {
	switch kdf {
	case kdfArgon2id:
		if len(cfg.Passphrase) == 0 {
			return nil, fmt.Errorf("%w: data directory was created with a passphrase", ErrKeyMismatch)
		}
		if len(salt) != SaltLength {
			return nil, fmt.Errorf("keyring: invalid salt length %d", len(salt))
		}
		return argon2.IDKey(cfg.Passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen), nil
	case kdfRaw:
		if len(cfg.Key) == 0 {
			return nil, fmt.Errorf("%w: data directory was created with a raw key", ErrKeyMismatch)
		}
		return append([]byte(nil), cfg.Key...), nil
	default:
		return nil, fmt.Errorf("keyring: unknown kdf %q", kdf)
	}
}

func payloadCipher(master []byte, typ adaptive.CipherType) (adaptive.Cipher, error) {
	key, err := DeriveSubkey(master, infoPayload, 32)
	if err != nil {
		return nil, err
	}
	defer ZeroKey(key)
	return adaptive.NewWithType(key, typ)
}

func readMetadata(dir string) (*metadata, error) {
	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keyring: read: %w", err)
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("keyring: parse: %w", err)
	}
	if meta.Version != formatVersion {
		return nil, fmt.Errorf("keyring: unsupported version %d", meta.Version)
	}
	if len(meta.Check) != checkLength {
		return nil, fmt.Errorf("keyring: invalid check value")
	}
	return &meta, nil
}

// writeMetadata writes the keyring through a temporary file and a rename.
func writeMetadata(dir string, meta *metadata) error {
	if err := os.MkdirAll(dir, segment.DefaultDirPerm); err != nil {
		return fmt.Errorf("keyring: create dir: %w", err)
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("keyring: encode: %w", err)
	}

	path := filepath.Join(dir, FileName)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, segment.DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("keyring: create: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		return fmt.Errorf("keyring: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("keyring: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("keyring: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("keyring: rename: %w", err)
	}
	return nil
}

func containsSegments(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("keyring: list dir: %w", err)
	}
	for _, e := range entries {
		if _, ok := segment.ParseFileName(e.Name()); ok {
			return true, nil
		}
	}
	return false, nil
}

// DeriveSubkey derives a subkey of the given length from a master key
// using HKDF-SHA256.
func DeriveSubkey(masterKey []byte, info string, length int) ([]byte, error) {
	if len(masterKey) < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("keyring: derive subkey: %w", err)
	}
	return key, nil
}

// GenerateKey generates a random key of the given length.
func GenerateKey(length int) ([]byte, error) {
	if length < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("keyring: generate key: %w", err)
	}
	return key, nil
}

// ZeroKey overwrites key with zeros.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
