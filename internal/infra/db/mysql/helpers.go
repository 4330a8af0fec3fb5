package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	domain "github.com/jonathandeng7/ART/internal/domain/analysis"
)

// escapeLikePattern escapes special characters in LIKE patterns to prevent SQL injection
func escapeLikePattern(s string) string {
	// Escape backslash first, then other LIKE special characters
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

// canonicalID normalizes urn, braced and upper-case ids to the stored CHAR(36) form
func canonicalID(id domain.RecordID) (string, bool) {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return "", false
	}
	return u.String(), true
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func descriptionsJSON(descs []string) ([]byte, error) {
	if descs == nil {
		descs = []string{}
	}
	b, err := json.Marshal(descs)
	if err != nil {
		return nil, fmt.Errorf("encoding descriptions: %w", err)
	}
	return b, nil
}

func metadataJSON(meta map[string]any) ([]byte, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return b, nil
}

// wrapErr marks connectivity failures as domain.ErrStoreUnavailable
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, gomysql.ErrInvalidConn) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
