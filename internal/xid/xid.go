package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// OrderCode returns a human-readable invoice code embedding the commit
// timestamp, e.g. HD-20260901143012-3F9A21C7. Codes double as invoice
// download file names, so the alphabet stays filesystem-safe. The suffix
// carries 32 random bits so concurrent checkouts within the same second
// do not collide.
func OrderCode(at time.Time) string {
	buf := make([]byte, 4)
	suffix := fmt.Sprintf("%08d", at.Nanosecond()%100000000)
	if _, err := rand.Read(buf); err == nil {
		suffix = strings.ToUpper(hex.EncodeToString(buf))
	}
	return fmt.Sprintf("HD-%s-%s", at.UTC().Format("20060102150405"), suffix)
}
