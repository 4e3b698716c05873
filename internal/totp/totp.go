// Package totp verifies RFC 6238 time-based one-time codes for clinician
// multi-factor login. Secrets are provisioned elsewhere; this service only
// consumes them.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// Digits is the code length clinician authenticator apps are provisioned with.
	Digits = 6
	// Period is the code rotation interval in seconds.
	Period = 30
	// Skew is the number of adjacent periods accepted either side of now.
	Skew = 1
)

var errEmptySecret = errors.New("empty totp secret")

// Verify checks a presented code against a base32-encoded shared secret,
// accepting codes from the current period plus or minus Skew periods.
// A malformed code is a mismatch, not an error.
func Verify(secretBase32, code string, now time.Time) (bool, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != Digits || !numeric(trimmed) {
		return false, nil
	}

	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	secret, err := enc.DecodeString(strings.ToUpper(strings.TrimSpace(secretBase32)))
	if err != nil {
		return false, fmt.Errorf("decode totp secret: %w", err)
	}
	if len(secret) == 0 {
		return false, errEmptySecret
	}

	baseCounter := now.Unix() / Period
	for step := -Skew; step <= Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated := hotpCode(secret, counter)
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, nil
		}
	}

	return false, nil
}

// GenerateCode returns the code for the period containing now. Exposed for
// tests and operational tooling.
func GenerateCode(secretBase32 string, now time.Time) (string, error) {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	secret, err := enc.DecodeString(strings.ToUpper(strings.TrimSpace(secretBase32)))
	if err != nil {
		return "", fmt.Errorf("decode totp secret: %w", err)
	}
	if len(secret) == 0 {
		return "", errEmptySecret
	}
	return hotpCode(secret, now.Unix()/Period), nil
}

func hotpCode(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < Digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", Digits, bin%mod)
}

func numeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
