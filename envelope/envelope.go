// Package envelope implements the at-rest encryption of job query strings.
// Each encryption draws a fresh IV and salt, derives the key with
// PBKDF2-HMAC-SHA256, and encrypts with AES-256-CTR. The envelope is the
// base64 encoding of IV ‖ salt ‖ ciphertext, so two encryptions of the
// same plaintext never match.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/pbkdf2"
)

const (
	ivSize     = 16
	saltSize   = 32
	keySize    = 32
	iterations = 100_000

	minSecretLen = 32
)

// ErrDecryptFailed is the single opaque error surfaced by Decrypt. The
// underlying cause (bad base64, truncated envelope, wrong secret) is
// deliberately not leaked.
var ErrDecryptFailed = errors.New("ludari/envelope: failed to decrypt")

// commonWords are obviously weak substrings rejected by ValidateSecret.
var commonWords = []string{
	"password", "passwort", "qwerty", "secret", "admin",
	"letmein", "welcome", "monkey", "dragon", "iloveyou",
}

// ValidateSecret checks the strength rules for a query secret: at least
// 32 characters, at least three of {lowercase, uppercase, digit, symbol},
// and no obvious weak patterns (character runs, monotonic sequences,
// common words).
func ValidateSecret(secret string) error {
	if len(secret) < minSecretLen {
		return fmt.Errorf("ludari/envelope: query secret must be at least %d characters", minSecretLen)
	}

	var lower, upper, digit, symbol bool
	for _, r := range secret {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	classes := 0
	for _, ok := range []bool{lower, upper, digit, symbol} {
		if ok {
			classes++
		}
	}
	if classes < 3 {
		return errors.New("ludari/envelope: query secret must contain at least three of lowercase, uppercase, digit, symbol")
	}

	if hasCharRun(secret, 4) {
		return errors.New("ludari/envelope: query secret contains a repeated character run")
	}
	if hasMonotonicRun(secret, 5) {
		return errors.New("ludari/envelope: query secret contains a sequential character run")
	}
	folded := strings.ToLower(secret)
	for _, w := range commonWords {
		if strings.Contains(folded, w) {
			return fmt.Errorf("ludari/envelope: query secret contains the common word %q", w)
		}
	}
	return nil
}

// hasCharRun reports whether s contains n identical characters in a row.
func hasCharRun(s string, n int) bool {
	run := 1
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1] {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

// hasMonotonicRun reports whether s contains n letters or digits in
// strictly ascending or descending ASCII order ("abcde", "98765").
func hasMonotonicRun(s string, n int) bool {
	asc, desc := 1, 1
	for i := 1; i < len(s); i++ {
		a, b := s[i-1], s[i]
		alnum := (a >= '0' && a <= '9' && b >= '0' && b <= '9') ||
			(a >= 'a' && a <= 'z' && b >= 'a' && b <= 'z') ||
			(a >= 'A' && a <= 'Z' && b >= 'A' && b <= 'Z')
		if alnum && b == a+1 {
			asc++
		} else {
			asc = 1
		}
		if alnum && b == a-1 {
			desc++
		} else {
			desc = 1
		}
		if asc >= n || desc >= n {
			return true
		}
	}
	return false
}

// Encrypt envelopes the plaintext under the given secret. The result is
// base64(IV ‖ salt ‖ ciphertext).
func Encrypt(plaintext, secret string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("ludari/envelope: draw iv: %w", err)
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("ludari/envelope: draw salt: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(secret, salt))
	if err != nil {
		return "", fmt.Errorf("ludari/envelope: init cipher: %w", err)
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, []byte(plaintext))

	out := make([]byte, 0, ivSize+saltSize+len(ciphertext))
	out = append(out, iv...)
	out = append(out, salt...)
	out = append(out, ciphertext...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. All failures surface as ErrDecryptFailed.
func Decrypt(envelope, secret string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil || len(raw) < ivSize+saltSize {
		return "", ErrDecryptFailed
	}

	iv := raw[:ivSize]
	salt := raw[ivSize : ivSize+saltSize]
	ciphertext := raw[ivSize+saltSize:]

	block, err := aes.NewCipher(deriveKey(secret, salt))
	if err != nil {
		return "", ErrDecryptFailed
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)
	return string(plaintext), nil
}

func deriveKey(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, iterations, keySize, sha256.New)
}
