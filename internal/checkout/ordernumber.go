package checkout

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"time"
)

const maxOrderNumberAttempts = 5

var suffixEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewOrderNumber génère un numéro CMD-YYYYMMDD-XXXXXX (suffixe base32 aléatoire).
func NewOrderNumber(now time.Time) (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("order number entropy: %w", err)
	}
	return fmt.Sprintf("CMD-%s-%s", now.UTC().Format("20060102"), suffixEncoding.EncodeToString(b[:])[:6]), nil
}
