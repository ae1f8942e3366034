package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	pkgerrors "go-pos-ledger/internal/errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// MySQL server error numbers.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlDuplicateEntry  = 1062
	mysqlColumnNotNull   = 1048
	mysqlRowIsReferenced = 1451
	mysqlNoReferencedRow = 1452
	mysqlCheckViolated   = 3819
)

// Classify maps driver and gorm errors onto the ledger error taxonomy.
// Errors that already carry a code pass through untouched.
func Classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, op+": record not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, op+": duplicate key")
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, op+": foreign key violated")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, op+": gave up waiting")
	case errors.Is(err, driver.ErrBadConn):
		return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, op+": bad connection")
	}

	if IsConflict(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, op+": concurrent modification")
	}
	if IsConstraintViolation(err) {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, op+": constraint violated")
	}
	return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, fmt.Sprintf("%s failed", op))
}

// IsConflict reports lock contention, deadlocks, serialization failures and
// unique violations that a retry of the whole unit of work may resolve.
func IsConflict(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDeadlock, mysqlLockWaitTimeout, mysqlDuplicateEntry:
			return true
		}
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "23505":
			return true
		}
		return false
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return true
		}
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "deadlock")
}

// IsConstraintViolation reports CHECK, NOT NULL and foreign key failures.
// They mean a write broke a schema invariant, so retrying cannot help.
func IsConstraintViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlCheckViolated, mysqlColumnNotNull, mysqlRowIsReferenced, mysqlNoReferencedRow:
			return true
		}
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
