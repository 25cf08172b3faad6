package message

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// VerifySignature checks the signature WeChat attaches to every webhook
// request. The platform computes SHA-1 over the lexicographically sorted
// concatenation of the shared token, the timestamp, and the nonce.
//
// maxSkew bounds how far the request timestamp may drift from local time;
// zero disables the freshness check. An absent or non-numeric timestamp is
// rejected, never an error: a bad signature is an expected condition at the
// webhook boundary, not an exceptional one.
func VerifySignature(token, timestamp, nonce, signature string, maxSkew time.Duration) bool {
	if token == "" || timestamp == "" || nonce == "" || signature == "" {
		return false
	}
	if maxSkew > 0 {
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return false
		}
		drift := time.Since(time.Unix(ts, 0))
		if drift < 0 {
			drift = -drift
		}
		if drift > maxSkew {
			return false
		}
	}

	parts := []string{token, timestamp, nonce}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	expected := hex.EncodeToString(sum[:])

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
