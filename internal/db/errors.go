package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
)

// IsConnectionError reports whether err is about reaching the store rather
// than about the data written. Constraint violations return false.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgFatalClass(pgErr.Code)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1040, // too many connections
			1045, // access denied
			1049, // unknown database
			1053, // server shutdown
			1152, // aborted connection
			1159, // read timeout
			1161: // write timeout
			return true
		}
		return false
	}

	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() & 0xff {
		case 8, // SQLITE_READONLY
			10, // SQLITE_IOERR
			11, // SQLITE_CORRUPT
			13, // SQLITE_FULL
			14, // SQLITE_CANTOPEN
			26: // SQLITE_NOTADB
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// SQLSTATE classes 08 connection exception, 53 insufficient resources,
// 57 operator intervention, 58 system error.
func pgFatalClass(code string) bool {
	if len(code) < 2 {
		return false
	}
	switch code[:2] {
	case "08", "53", "57", "58":
		return true
	}
	return false
}
