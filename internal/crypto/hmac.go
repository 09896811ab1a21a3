package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds L2 API credentials for the Polymarket CLOB.
type HMACAuth struct {
	Key        string
	Secret     string // base64 (URL or standard alphabet)
	Passphrase string
}

// L2Headers returns the POLY_* headers for an authenticated CLOB request
// signed at the current time.
func (h *HMACAuth) L2Headers(address, method, path, body string) map[string]string {
	return h.L2HeadersAt(address, method, path, body, time.Now().Unix())
}

// L2HeadersAt is L2Headers with an explicit Unix timestamp.
func (h *HMACAuth) L2HeadersAt(address, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	mac := hmac.New(sha256.New, h.secretBytes())
	mac.Write([]byte(ts + method + path + body))

	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    h.Key,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": h.Passphrase,
		"POLY_SIGNATURE":  base64.URLEncoding.EncodeToString(mac.Sum(nil)),
	}
}

// secretBytes decodes the API secret. The CLOB issues URL-safe base64; the
// standard alphabet and raw bytes are accepted as fallbacks.
func (h *HMACAuth) secretBytes() []byte {
	if b, err := base64.URLEncoding.DecodeString(h.Secret); err == nil {
		return b
	}
	if b, err := base64.StdEncoding.DecodeString(h.Secret); err == nil {
		return b
	}
	return []byte(h.Secret)
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
