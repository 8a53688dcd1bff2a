package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Driver-specific unique-violation markers. gorm translates these into
// ErrDuplicatedKey on some dialects but not all, so the raw messages are
// matched as a fallback.
var duplicateKeyMarkers = []string{
	"duplicate key value violates unique constraint", // postgres 23505
	"Error 1062",               // mysql ER_DUP_ENTRY
	"UNIQUE constraint failed", // sqlite 2067
}

// IsDuplicateKeyErr reports whether err is a unique-constraint violation
// on any supported dialect.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	for _, marker := range duplicateKeyMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
