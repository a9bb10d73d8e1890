package storage

import (
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrDuplicate indicates a unique or primary key constraint was violated.
	ErrDuplicate = errors.New("storage: duplicate record")
)

const (
	// ReceiptReceived names the received_time receipt column.
	ReceiptReceived = "received_time"
	// ReceiptRead names the read_time receipt column.
	ReceiptRead = "read_time"
)

// Credential is the identity-provider row backing sign-in.
type Credential struct {
	UserID       string
	Email        string
	PasswordHash string
	CreatedAt    int64
}

type scanner interface {
	Scan(dest ...any) error
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func timePtr(ni sql.NullInt64) *time.Time {
	if !ni.Valid {
		return nil
	}
	v := time.UnixMilli(ni.Int64).UTC()
	return &v
}

func fromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
