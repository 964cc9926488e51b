package envelope_test

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/ludari/ludari/envelope"
)

const testSecret = "Aa1!Aa1!Aa1!Aa1!Aa1!Aa1!Aa1!Aa1!"

func TestEncrypt_RoundTrip(t *testing.T) {
	plaintexts := []string{
		"SELECT 1",
		"",
		"WITH t AS (SELECT id FROM jobs) SELECT * FROM t",
		strings.Repeat("x", 4096),
	}

	for _, p := range plaintexts {
		enc, err := envelope.Encrypt(p, testSecret)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", p, err)
		}
		dec, err := envelope.Decrypt(enc, testSecret)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if dec != p {
			t.Errorf("round trip = %q, want %q", dec, p)
		}
	}
}

func TestEncrypt_DistinctEnvelopes(t *testing.T) {
	a, err := envelope.Encrypt("SELECT 1", testSecret)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := envelope.Encrypt("SELECT 1", testSecret)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical envelopes")
	}
}

func TestEncrypt_EnvelopeShape(t *testing.T) {
	enc, err := envelope.Encrypt("SELECT 1", testSecret)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		t.Fatalf("envelope is not base64: %v", err)
	}
	// 16-byte IV + 32-byte salt + 8-byte ciphertext.
	if len(raw) < 49 {
		t.Errorf("envelope is %d bytes, want >= 49", len(raw))
	}
	if strings.Contains(string(raw), "SELECT 1") {
		t.Error("envelope contains the plaintext")
	}
}

func TestDecrypt_OpaqueFailure(t *testing.T) {
	for _, bad := range []string{"", "not base64 !!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := envelope.Decrypt(bad, testSecret); !errors.Is(err, envelope.ErrDecryptFailed) {
			t.Errorf("Decrypt(%q): err = %v, want ErrDecryptFailed", bad, err)
		}
	}
}

func TestValidateSecret(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		ok     bool
	}{
		{"strong", testSecret, true},
		{"too short", "Aa1!Aa1!", false},
		{"single class", strings.Repeat("ab", 16), false},
		{"character run", "Aa1!Aa1!Aa1!Aa1!Aa1!Aa1!Aa1!zzzz", false},
		{"ascending digits", "Aa!xAa!xAa!xAa!xAa!xAa!x12345678", false},
		{"common word", "PASSWORD!PASSWORD!password!12x9z", false},
		{"long mixed", "k9#mQ2x!Tv8@Wq4$Zr7%Hn1^Jp5&Lc3*", true},
	}

	for _, tc := range cases {
		err := envelope.ValidateSecret(tc.secret)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected rejection", tc.name)
		}
	}
}

func TestSanitizeQuery_Allowed(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"  select\n  *  from jobs  ", "select * from jobs"},
		{"WITH t AS (SELECT 1) SELECT * FROM t", "WITH t AS (SELECT 1) SELECT * FROM t"},
		{"INSERT INTO audit (x) VALUES (1)", "INSERT INTO audit (x) VALUES (1)"},
		{"SELECT /* inline note */ name FROM jobs", "SELECT name FROM jobs"},
		{"EXECUTE refresh_rollups", "EXECUTE refresh_rollups"},
	}

	for _, tc := range cases {
		got, err := envelope.SanitizeQuery(tc.in)
		if err != nil {
			t.Errorf("SanitizeQuery(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("SanitizeQuery(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeQuery_Rejected(t *testing.T) {
	cases := []string{
		"",
		"DROP TABLE jobs",
		"SELECT 1; DROP TABLE jobs",
		"SELECT 1 UNION SELECT password FROM users",
		"SELECT 1 --",
		"SELECT * FROM INFORMATION_SCHEMA.TABLES",
		"SELECT * FROM pg_catalog.pg_tables",
		"SELECT * FROM mysql.user",
		"EXEC xp_cmdshell 'dir'",
		"CALL sp_configure",
		"SELECT '" + strings.Repeat("a", 10_001) + "'",
	}

	for _, in := range cases {
		if _, err := envelope.SanitizeQuery(in); err == nil {
			t.Errorf("SanitizeQuery(%.60q): expected rejection", in)
		}
	}
}
