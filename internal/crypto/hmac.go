package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Venue request header names.
const (
	HeaderKey        = "X-SB-APIKEY"
	HeaderTimestamp  = "X-SB-TIMESTAMP"
	HeaderPassphrase = "X-SB-PASSPHRASE"
	HeaderSignature  = "X-SB-SIGNATURE"
)

// HMACAuth signs venue order requests. The signature is
// base64(HMAC-SHA256(secret, timestamp+method+path+body)) with the
// timestamp in Unix milliseconds.
type HMACAuth struct {
	Key        string
	Secret     string
	Passphrase string
	// Base64Secret means Secret is base64 encoded and decoded before use.
	Base64Secret bool
}

// Headers returns the auth headers for a request sent now.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().UnixMilli())
}

// HeadersAt is Headers with a caller supplied timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixMilli int64) map[string]string {
	ts := strconv.FormatInt(unixMilli, 10)
	headers := map[string]string{
		HeaderKey:       h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64(h.secretBytes(), ts+method+path+body),
	}
	if h.Passphrase != "" {
		headers[HeaderPassphrase] = h.Passphrase
	}
	return headers
}

// Verify recomputes the signature. Used by the gateway test double.
func (h *HMACAuth) Verify(method, path, body, ts, sig string) bool {
	want := hmacSHA256Base64(h.secretBytes(), ts+method+path+body)
	return hmac.Equal([]byte(want), []byte(sig))
}

func (h *HMACAuth) secretBytes() []byte {
	if h.Base64Secret {
		// A malformed secret yields a wrong signature, not a panic.
		if b, err := base64.StdEncoding.DecodeString(h.Secret); err == nil {
			return b
		}
	}
	return []byte(h.Secret)
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String redacts the credentials.
func (h *HMACAuth) String() string {
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", Redact(h.Key), Redact(h.Secret))
}

// Redact keeps the first four characters of s.
func Redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
