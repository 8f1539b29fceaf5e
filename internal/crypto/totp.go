package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// RFC 6238 parameters.  One fixed profile is enough here: 30 second
// steps, 6 digits, HMAC-SHA1 (what authenticator apps expect).
const (
	totpPeriod      = 30
	totpDigits      = 6
	totpSecretBytes = 20
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

var ErrEmptyTOTPSecret = errors.New("empty totp secret")

// GenerateTOTPSecret returns a fresh random secret in base32 form,
// suitable for embedding in a provisioning URI.
func GenerateTOTPSecret() (string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return b32.EncodeToString(raw), nil
}

// TOTPProvisioningURI builds the otpauth:// URI an authenticator app
// scans at enrollment.
func TOTPProvisioningURI(secretBase32, issuer, account string) string {
	label := url.PathEscape(issuer + ":" + account)
	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(totpPeriod))
	v.Set("digits", strconv.Itoa(totpDigits))
	v.Set("algorithm", "SHA1")
	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyTOTP checks a submitted code against the secret at time now,
// accepting codes up to skew steps before and after the current step to
// tolerate clock drift.  Comparison is constant-time per candidate.
func VerifyTOTP(secretBase32, code string, skew int, now time.Time) (bool, error) {
	if len(code) != totpDigits || !allDigits(code) {
		return false, nil
	}
	secret, err := b32.DecodeString(secretBase32)
	if err != nil || len(secret) == 0 {
		return false, ErrEmptyTOTPSecret
	}
	base := now.Unix() / totpPeriod
	for step := -skew; step <= skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotpCode(secret, counter)), []byte(code)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// GenerateBackupCodes mints count single-use recovery codes, each a
// random 8-character hex string.  Storage hashes them; the plain values
// are shown to the user exactly once.
func GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		buf := make([]byte, 4)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		codes = append(codes, hex.EncodeToString(buf))
	}
	return codes, nil
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
	for i := 0; i < totpDigits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", totpDigits, bin%mod)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
