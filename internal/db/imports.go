package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoImport is returned when no completed telemetry import matches.
var ErrNoImport = errors.New("no telemetry import")

// ResolveAgencyDBName picks the database holding an agency's telemetry from
// public.telemetry_imports. Only completed imports count. With a zero at the
// most recently covered import wins; otherwise the import whose
// [covers_from, covers_until) range contains at, newest completion first.
func ResolveAgencyDBName(ctx context.Context, meta *sql.DB, agency string, at time.Time) (string, error) {
	agency = strings.ToLower(strings.TrimSpace(agency))
	if agency == "" {
		return "", fmt.Errorf("agency is required")
	}
	q := `
SELECT db_name
FROM public.telemetry_imports
WHERE lower(agency) = $1 AND completed_at IS NOT NULL`
	args := []any{agency}
	if !at.IsZero() {
		q += ` AND covers_from <= $2 AND covers_until > $2`
		args = append(args, at.UTC())
	}
	q += `
ORDER BY covers_until DESC, completed_at DESC
LIMIT 1`

	var dbName sql.NullString
	if err := meta.QueryRowContext(ctx, q, args...).Scan(&dbName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if at.IsZero() {
				return "", fmt.Errorf("%w for agency %q", ErrNoImport, agency)
			}
			return "", fmt.Errorf("%w for agency %q covering %s", ErrNoImport, agency, at.UTC().Format(time.RFC3339))
		}
		return "", err
	}
	if !dbName.Valid || strings.TrimSpace(dbName.String) == "" {
		return "", fmt.Errorf("empty db_name for agency %q", agency)
	}
	return dbName.String, nil
}
