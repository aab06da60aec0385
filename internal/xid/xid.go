package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns a prefixed, time-ordered, collision-resistant identifier,
// e.g. "ds-1705276800123456789-9f2c1a84b03d77e1".
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
