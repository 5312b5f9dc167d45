package logger

import (
	"log/slog"
	"testing"
)

func TestRedactSensitive_KeyNames(t *testing.T) {
	l, buf := newBufLogger(t, "info")
	l.Info("config loaded",
		"encryption_key", "00112233",
		"passphrase", "hunter22",
		"segment_size_bytes", "67108864",
		"empty_secret", "",
	)
	entry := decodeLine(t, buf)

	for _, k := range []string{"encryption_key", "passphrase"} {
		if entry[k] != redactedValue {
			t.Errorf("%s = %v, want redacted", k, entry[k])
		}
	}
	if entry["segment_size_bytes"] != "67108864" {
		t.Errorf("segment_size_bytes = %v, want untouched", entry["segment_size_bytes"])
	}
	if entry["empty_secret"] != "" {
		t.Errorf("empty_secret = %v, want empty", entry["empty_secret"])
	}
}

func TestRedactSensitive_BytesAsHex(t *testing.T) {
	l, buf := newBufLogger(t, "info")
	l.Info("put", "id", []byte{0xde, 0xad, 0xbe, 0xef}, "master_key", []byte{1, 2, 3})
	entry := decodeLine(t, buf)

	if entry["id"] != "deadbeef" {
		t.Errorf("id = %v, want deadbeef", entry["id"])
	}
	if entry["master_key"] != redactedValue {
		t.Errorf("master_key = %v, want redacted", entry["master_key"])
	}
}

func TestRedactSensitive_Groups(t *testing.T) {
	a := slog.Group("keyring", slog.String("passphrase", "x"), slog.Int("version", 1))
	got := redactSensitive(a)
	attrs := got.Value.Group()
	if attrs[0].Value.String() != redactedValue {
		t.Errorf("nested passphrase = %v, want redacted", attrs[0].Value)
	}
	if attrs[1].Value.Int64() != 1 {
		t.Errorf("nested version = %v, want 1", attrs[1].Value)
	}
}

func TestIsSensitiveKey(t *testing.T) {
	tests := map[string]bool{
		"password":       true,
		"DB_PASSWORD":    true,
		"encryption_key": true,
		"client_secret":  true,
		"segment_id":     false,
		"key_file":       false,
		"data_dir":       false,
	}
	for key, want := range tests {
		if got := IsSensitiveKey(key); got != want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestID(t *testing.T) {
	long := make([]byte, 32)
	a := ID("id", long)
	if got := a.Value.String(); got != "0000000000000000…" {
		t.Fatalf("ID = %q", got)
	}
}
