package service

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"shop-auth-service/internal/hashing"
)

const (
	totpSecretBytes = 20
	totpDigits      = 6
	totpPeriod      = 30
	totpSkewSteps   = 1

	backupCodeCount = 10
)

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// TOTPService implements the RFC 6238 time-based codes and the single-use
// backup codes behind two-factor login. Secrets are handled here only in
// plaintext form; encryption at rest belongs to the caller.
type TOTPService struct {
	issuer string
}

func NewTOTPService(issuer string) *TOTPService {
	return &TOTPService{issuer: issuer}
}

// GenerateSecret returns a fresh 20-byte secret encoded as unpadded
// base32, the form authenticator apps accept.
func (s *TOTPService) GenerateSecret() (string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	return base32NoPad.EncodeToString(raw), nil
}

// GenerateOtpAuthURI builds the otpauth:// provisioning URI for QR display.
// Parameter order is fixed; some authenticator apps in the field parse it
// positionally.
func (s *TOTPService) GenerateOtpAuthURI(email, secret string) string {
	label := url.PathEscape(s.issuer + ":" + email)
	return fmt.Sprintf(
		"otpauth://totp/%s?secret=%s&issuer=%s&algorithm=SHA1&digits=%d&period=%d",
		label, secret, url.QueryEscape(s.issuer), totpDigits, totpPeriod,
	)
}

// GenerateTOTP computes the 6-digit code for the step containing t.
func (s *TOTPService) GenerateTOTP(secret string, t time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotpCode(key, t.Unix()/totpPeriod), nil
}

// VerifyTOTP accepts the code for the current step or one step either
// side, absorbing clock drift between server and authenticator device.
// Comparison is constant time per candidate.
func (s *TOTPService) VerifyTOTP(secret, code string, t time.Time) (bool, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != totpDigits || !isDigits(trimmed) {
		return false, nil
	}

	key, err := decodeSecret(secret)
	if err != nil {
		return false, err
	}

	base := t.Unix() / totpPeriod
	for step := int64(-totpSkewSteps); step <= totpSkewSteps; step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		expected := hotpCode(key, counter)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(trimmed)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// GenerateBackupCodes returns ten fresh codes in XXXX-XXXX form together
// with their storage hashes, index aligned.
func (s *TOTPService) GenerateBackupCodes() ([]string, []string, error) {
	codes := make([]string, backupCodeCount)
	hashes := make([]string, backupCodeCount)
	for i := range codes {
		raw := make([]byte, 4)
		if _, err := rand.Read(raw); err != nil {
			return nil, nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		h := strings.ToUpper(hex.EncodeToString(raw))
		codes[i] = h[:4] + "-" + h[4:]
		hashes[i] = hashing.HashBackupCode(codes[i])
	}
	return codes, hashes, nil
}

// VerifyBackupCode returns the index of the matching stored hash, or -1.
// The caller removes the hash at that index so each code spends once.
func (s *TOTPService) VerifyBackupCode(code string, storedHashes []string) int {
	candidate := hashing.HashBackupCode(code)
	match := -1
	for i, h := range storedHashes {
		if hashing.ConstantTimeEquals(candidate, h) && match == -1 {
			match = i
		}
	}
	return match
}

func decodeSecret(secret string) ([]byte, error) {
	key, err := base32NoPad.DecodeString(strings.ToUpper(strings.TrimSpace(secret)))
	if err != nil {
		return nil, fmt.Errorf("malformed TOTP secret: %w", err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("empty TOTP secret")
	}
	return key, nil
}

func hotpCode(key []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	return fmt.Sprintf("%06d", bin%1000000)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
