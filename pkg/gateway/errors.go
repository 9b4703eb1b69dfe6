package gateway

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrLockConflict is returned by AcquireLock when the (repo, filePath) pair
// is already held, normalized from Postgres's unique_violation (23505) so
// callers in pkg/conflict never need to know the wire error shape.
var ErrLockConflict = errors.New("gateway: file already locked")

// ErrNotFound is returned when a conditional UPDATE or a single-row SELECT
// affects or matches zero rows.
var ErrNotFound = errors.New("gateway: not found")

const pgUniqueViolation = "23505"

func normalizeInsertErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrLockConflict
	}
	return err
}
