// Package db provides database schema constants and helpers
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Table names as constants for type safety
const (
	TableRoles             = "roles"
	TableUsers             = "users"
	TableSessions          = "sessions"
	TablePolicies          = "policies"
	TablePolicyVersions    = "policy_versions"
	TablePolicyRules       = "policy_rules"
	TablePolicyBindings    = "policy_bindings"
	TablePolicyEditorPerms = "policy_editor_permissions"
)

// Schema constraints as constants
const (
	MaxNameLength      = 255
	MaxPatternLength   = 255
	SessionTokenLength = 64
)

// PostgreSQL error codes the stores translate
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
)

// Validation errors
var (
	// ErrNameEmpty is returned when a required name is blank
	ErrNameEmpty = errors.New("name cannot be empty")

	// ErrNameTooLong is returned when a name exceeds MaxNameLength
	ErrNameTooLong = fmt.Errorf("name cannot exceed %d characters", MaxNameLength)
)

// ValidateName validates name column constraints
func ValidateName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique constraint failure,
// optionally restricted to the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if string(pqErr.Code) != CodeUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// IsForeignKeyViolation reports whether err is a foreign key failure
func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == CodeForeignKeyViolation
}

// Open opens a postgres pool and verifies connectivity
func Open(dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxIdle)
	conn.SetConnMaxLifetime(maxLifetime)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}
