package domain

import "encoding/hex"

// MaxIdentifierLen is the largest identifier the record layout can frame.
const MaxIdentifierLen = 1<<16 - 1

// ValidateIdentifier rejects identifiers the engine cannot store.
func ValidateIdentifier(id []byte) error {
	if len(id) == 0 {
		return ErrInvalidIdentifier.WithDetails("identifier is empty")
	}
	if len(id) > MaxIdentifierLen {
		return ErrInvalidIdentifier.Detailf("identifier is %d bytes, max %d", len(id), MaxIdentifierLen)
	}
	return nil
}

// ShortID renders an identifier for logs: the hex form, truncated to 16
// characters for long content addresses.
func ShortID(id []byte) string {
	s := hex.EncodeToString(id)
	if len(s) > 16 {
		return s[:16] + "…"
	}
	return s
}
