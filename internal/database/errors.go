package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/lib/pq"
	"github.com/npezzotti/go-myclean/internal/apperror"
)

// ErrStatusChanged is returned when a conditional update or delete matched
// no row because the stored status differs from the expected one.
var ErrStatusChanged = errors.New("booking status changed")

const (
	pqForeignKeyViolation pq.ErrorCode = "23503"
	pqUniqueViolation     pq.ErrorCode = "23505"
)

// classify maps driver errors onto the application error kinds.
func classify(err error, entity string) error {
	if err == nil || errors.Is(err, ErrStatusChanged) {
		return err
	}

	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, sql.ErrNoRows) {
		return apperror.Wrap(apperror.NotFound, err, entity+" not found")
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == pqForeignKeyViolation:
			return apperror.Wrap(apperror.NotFound, err, "referenced entity not found")
		case pqErr.Code == pqUniqueViolation:
			return apperror.Wrap(apperror.Conflict, err, entity+" already exists")
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "53", pqErr.Code.Class() == "57":
			return apperror.Wrap(apperror.Unavailable, err, "store unavailable")
		}
		return apperror.Wrap(apperror.Internal, err, entity+" query failed")
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &netErr) {
		return apperror.Wrap(apperror.Unavailable, err, "store unavailable")
	}

	return apperror.Wrap(apperror.Internal, err, entity+" query failed")
}
