package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nexus-link/durable"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isUnavailable reports whether err means the database could not be
// reached, as opposed to a rejected statement.
func isUnavailable(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception; 57P0x are shutdown codes.
		return strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "57P0") ||
			pgErr.Code == "53300"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// wrap annotates a driver error. Connectivity failures additionally wrap
// durable.ErrStoreUnavailable so callers can fall back.
func wrap(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("durable/postgres: %s: %w: %w", op, durable.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("durable/postgres: %s: %w", op, err)
}

func newEtag() string { return uuid.NewString() }

// limitOffset renders the LIMIT/OFFSET tail of a list query. n is the
// number of placeholders already used.
func limitOffset(limit, offset, n int, args []any) (string, []any) {
	var b strings.Builder
	if limit > 0 {
		n++
		fmt.Fprintf(&b, " LIMIT $%d", n)
		args = append(args, limit)
	}
	if offset > 0 {
		n++
		fmt.Fprintf(&b, " OFFSET $%d", n)
		args = append(args, offset)
	}
	return b.String(), args
}
