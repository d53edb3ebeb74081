package posting

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprintLen keeps fingerprints short enough to embed in notification
// callback payloads (Telegram caps callback data at 64 bytes).
const fingerprintLen = 16

// Fingerprint derives the stable identity of a seed. Sources that expose a
// native posting ID are keyed on it; everything else falls back to the
// canonicalized (title, company, location) triple. Descriptions and URLs are
// deliberately excluded so re-scrapes with cosmetic drift map to the same
// posting.
func (s Seed) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(s.Source))
	h.Write([]byte{0})
	if s.ExternalID != "" {
		h.Write([]byte(s.ExternalID))
	} else {
		h.Write([]byte(canon(s.Title)))
		h.Write([]byte{0})
		h.Write([]byte(canon(s.Company)))
		h.Write([]byte{0})
		h.Write([]byte(canon(s.Location)))
	}
	return hex.EncodeToString(h.Sum(nil))[:fingerprintLen]
}

// canon lower-cases and collapses all whitespace runs to single spaces.
func canon(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
