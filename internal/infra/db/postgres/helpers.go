package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"

	domain "github.com/jonathandeng7/ART/internal/domain/analysis"
)

// escapeLikePattern escapes special characters in LIKE patterns
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

// canonicalID returns the hyphenated lowercase form the uuid column accepts.
// uuid.Parse also takes urn:uuid: and braced ids, postgres does not.
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

func encodeJSON(descs []string, meta map[string]any) ([]byte, []byte, error) {
	if descs == nil {
		descs = []string{}
	}
	if meta == nil {
		meta = map[string]any{}
	}
	d, err := json.Marshal(descs)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding descriptions: %w", err)
	}
	m, err := json.Marshal(meta)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return d, m, nil
}

// wrapErr marks connectivity failures as domain.ErrStoreUnavailable
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
