package bunstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uptrace/bun/driver/pgdriver"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}

// isForeignKeyViolation checks for foreign_key_violation (23503).
func isForeignKeyViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23503"
	}
	return false
}

func marshalStrings(ss []string) []byte {
	if ss == nil {
		ss = []string{}
	}
	data, _ := json.Marshal(ss) //nolint:errcheck // string slices always marshal
	return data
}

func unmarshalStrings(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var ss []string
	_ = json.Unmarshal(data, &ss) //nolint:errcheck // best-effort parse from trusted column data
	return ss
}

func marshalMap(m map[string]any) []byte {
	if m == nil {
		return nil
	}
	data, _ := json.Marshal(m) //nolint:errcheck // contexts are validated JSON-serializable on write
	return data
}

func unmarshalMap(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal(data, &m) //nolint:errcheck // best-effort parse from trusted column data
	return m
}

func marshalResult(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ludari/bun: marshal run result: %w", err)
	}
	return data, nil
}
