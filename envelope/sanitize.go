package envelope

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const maxQueryLen = 10_000

// ErrEmptyQuery is returned when a query is empty after comment removal.
var ErrEmptyQuery = errors.New("ludari/envelope: query is empty")

var (
	blockComments = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComments  = regexp.MustCompile(`--[^\n]*`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// allowedKeywords are the statement-leading keywords a query may start with.
var allowedKeywords = map[string]struct{}{
	"SELECT": {}, "INSERT": {}, "UPDATE": {}, "DELETE": {},
	"WITH": {}, "CALL": {}, "EXEC": {}, "EXECUTE": {},
}

// denyPatterns reject injection-shaped queries. They run against the raw
// whitespace-collapsed input, before comment stripping, so payloads
// smuggled inside comments are still caught.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i);\s*(DROP|ALTER|CREATE|TRUNCATE|GRANT|REVOKE)\b`),
	regexp.MustCompile(`(?is)\bUNION\b.*\bSELECT\b`),
	regexp.MustCompile(`--\s*$`),
	regexp.MustCompile(`(?i)\bINFORMATION_SCHEMA\b`),
	regexp.MustCompile(`(?i)\bpg_\w+`),
	regexp.MustCompile(`(?i)\bmysql\.\w+`),
	regexp.MustCompile(`(?i)\b(xp|sp)_\w+`),
}

// SanitizeQuery validates and normalizes a decrypted query before it is
// handed to the storage back end. It strips SQL comments, collapses
// whitespace, enforces the leading-keyword allow-list and the length cap,
// and rejects queries matching any deny pattern.
func SanitizeQuery(query string) (string, error) {
	raw := strings.TrimSpace(whitespace.ReplaceAllString(query, " "))
	for _, p := range denyPatterns {
		if p.MatchString(raw) {
			return "", fmt.Errorf("ludari/envelope: query rejected by pattern %q", p.String())
		}
	}

	cleaned := blockComments.ReplaceAllString(query, " ")
	cleaned = lineComments.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(whitespace.ReplaceAllString(cleaned, " "))
	if cleaned == "" {
		return "", ErrEmptyQuery
	}
	if len(cleaned) > maxQueryLen {
		return "", fmt.Errorf("ludari/envelope: query exceeds %d characters", maxQueryLen)
	}

	fields := strings.FieldsFunc(cleaned, func(r rune) bool {
		return r == ' ' || r == '(' || r == ';'
	})
	if len(fields) == 0 {
		return "", ErrEmptyQuery
	}
	first := strings.ToUpper(fields[0])
	if _, ok := allowedKeywords[first]; !ok {
		return "", fmt.Errorf("ludari/envelope: query must begin with an allowed keyword, got %q", first)
	}

	return cleaned, nil
}
