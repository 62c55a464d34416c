// Package security provides the identifier and pattern guards used by every
// statement that touches a tenant table.
package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

// Dialect names as reported by gorm's Dialector.Name().
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
)

// MaxIdentifierLength is the shortest limit across supported stores (PostgreSQL).
const MaxIdentifierLength = 63

// ValidIdentifierRegex matches names produced by tenant prefix normalisation.
// Tenant names may start with a digit ("7 Eleven" -> "7_eleven"), so unlike
// plain SQL identifiers a leading digit is allowed; callers always quote.
var ValidIdentifierRegex = regexp.MustCompile(`^[a-z0-9_]+$`)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// systemColumns are owned by the branch table layout and cannot come from an import header.
var systemColumns = map[string]bool{
	"id":         true,
	"client_id":  true,
	"created_at": true,
	"updated_at": true,
}

// ValidateIdentifier checks if a string is a safe table or column name
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("identifier too long (max %d characters)", MaxIdentifierLength)
	}
	if !ValidIdentifierRegex.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must contain only lowercase letters, numbers, and underscores", name)
	}
	if strings.Trim(name, "_") == "" {
		return fmt.Errorf("invalid identifier %q: must contain a letter or digit", name)
	}
	return nil
}

// QuoteIdentifier quotes a validated identifier for the given dialect.
func QuoteIdentifier(dialect, name string) string {
	switch dialect {
	case DialectMySQL:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case DialectPostgres:
		return pq.QuoteIdentifier(name)
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

// SafeIdentifier validates and quotes an identifier for use in SQL
func SafeIdentifier(dialect, name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", err
	}
	return QuoteIdentifier(dialect, name), nil
}

// SanitizeColumnName turns a spreadsheet header into a column name: lowercase,
// every character outside [a-z0-9] replaced by an underscore.
func SanitizeColumnName(header string) (string, error) {
	name := nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(header)), "_")
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("header %q: %w", header, err)
	}
	if systemColumns[name] {
		return "", fmt.Errorf("header %q collides with reserved column %q", header, name)
	}
	return name, nil
}

// IsSystemColumn reports whether a branch table column is managed internally.
func IsSystemColumn(name string) bool {
	return systemColumns[name]
}

// LikeEscape is the escape character used by every LIKE built here. '!' has no
// special meaning in PostgreSQL, MySQL or SQLite string literals.
const LikeEscape = "!"

// EscapeLikePattern escapes special characters in LIKE patterns
func EscapeLikePattern(pattern string) string {
	pattern = strings.ReplaceAll(pattern, LikeEscape, LikeEscape+LikeEscape)
	pattern = strings.ReplaceAll(pattern, `%`, LikeEscape+`%`)
	pattern = strings.ReplaceAll(pattern, `_`, LikeEscape+`_`)
	return pattern
}

// PrefixPattern returns a LIKE pattern matching values that start with prefix.
func PrefixPattern(prefix string) string {
	return EscapeLikePattern(prefix) + "%"
}

// LikeCondition renders "<col> LIKE ? ESCAPE '!'" for a quoted column.
func LikeCondition(quotedColumn string) string {
	return fmt.Sprintf("%s LIKE ? ESCAPE '%s'", quotedColumn, LikeEscape)
}
