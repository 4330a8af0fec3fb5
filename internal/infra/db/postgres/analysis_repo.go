package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/jonathandeng7/ART/internal/domain/analysis"
)

const selectColumns = `
SELECT id, image_name, analysis_type, descriptions, metadata,
       image_url, image_base64, image_object_key, created_at, updated_at
FROM image_analyses`

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	var (
		r                    domain.Record
		descs, meta          []byte
		url, b64, key        sql.NullString
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&r.ID, &r.ImageName, &r.AnalysisType, &descs, &meta,
		&url, &b64, &key, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if len(descs) > 0 {
		if err := json.Unmarshal(descs, &r.Descriptions); err != nil {
			return nil, fmt.Errorf("decoding descriptions: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	r.ImageURL, r.ImageBase64, r.ImageObjectKey = url.String, b64.String, key.String
	r.CreatedAt, r.UpdatedAt = createdAt.UTC(), updatedAt.UTC()
	r.Normalize()
	return &r, nil
}

func (r *AnalysisRepository) query(ctx context.Context, q string, args ...any) ([]*domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr("querying analyses", err)
	}
	defer rows.Close()

	out := []*domain.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating rows", err)
	}
	return out, nil
}

func (r *AnalysisRepository) queryOne(ctx context.Context, q string, args ...any) (*domain.Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("reading analysis", err)
	}
	return rec, nil
}

// Insert assigns a fresh UUID and stores the record
func (r *AnalysisRepository) Insert(ctx context.Context, rec *domain.Record) error {
	const q = `
INSERT INTO image_analyses
  (id, image_name, analysis_type, descriptions, metadata,
   image_url, image_base64, image_object_key, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`

	descs, meta, err := encodeJSON(rec.Descriptions, rec.Metadata)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	if _, err := r.db.ExecContext(ctx, q,
		id, rec.ImageName, rec.AnalysisType, descs, meta,
		nullIfEmpty(rec.ImageURL), nullIfEmpty(rec.ImageBase64), nullIfEmpty(rec.ImageObjectKey),
		rec.CreatedAt, rec.UpdatedAt,
	); err != nil {
		return wrapErr("inserting analysis", err)
	}
	rec.ID = domain.RecordID(id)
	return nil
}

func (r *AnalysisRepository) Get(ctx context.Context, id domain.RecordID) (*domain.Record, error) {
	key, ok := canonicalID(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.queryOne(ctx, selectColumns+` WHERE id=$1 LIMIT 1;`, key)
}

// List newest first, optionally filtered by analysis_type
func (r *AnalysisRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.Record, error) {
	if f.AnalysisType == "" {
		return r.query(ctx, selectColumns+` ORDER BY created_at DESC, id DESC LIMIT $1;`, f.EffectiveLimit())
	}
	return r.query(ctx, selectColumns+` WHERE analysis_type=$1 ORDER BY created_at DESC, id DESC LIMIT $2;`,
		f.AnalysisType, f.EffectiveLimit())
}

func (r *AnalysisRepository) SearchByName(ctx context.Context, substring string) ([]*domain.Record, error) {
	pattern := "%" + escapeLikePattern(substring) + "%"
	return r.query(ctx, selectColumns+` WHERE image_name ILIKE $1 ESCAPE '\' ORDER BY created_at DESC, id DESC;`, pattern)
}

// Update sets only the patched columns plus updated_at.
// updated_at moves at least one millisecond past the stored value.
func (r *AnalysisRepository) Update(ctx context.Context, id domain.RecordID, p domain.Patch, updatedAt time.Time) (*domain.Record, error) {
	key, ok := canonicalID(id)
	if !ok {
		return nil, domain.ErrNotFound
	}

	sets := []string{"updated_at=GREATEST(updated_at + interval '1 millisecond', $1)"}
	args := []any{updatedAt}
	if p.Descriptions != nil {
		descs, _, err := encodeJSON(*p.Descriptions, nil)
		if err != nil {
			return nil, err
		}
		args = append(args, descs)
		sets = append(sets, fmt.Sprintf("descriptions=$%d", len(args)))
	}
	if p.Metadata != nil {
		_, meta, err := encodeJSON(nil, p.Metadata)
		if err != nil {
			return nil, err
		}
		args = append(args, meta)
		sets = append(sets, fmt.Sprintf("metadata=$%d", len(args)))
	}
	args = append(args, key)

	q := fmt.Sprintf(`
UPDATE image_analyses SET %s WHERE id=$%d
RETURNING id, image_name, analysis_type, descriptions, metadata,
          image_url, image_base64, image_object_key, created_at, updated_at;`,
		strings.Join(sets, ", "), len(args))
	return r.queryOne(ctx, q, args...)
}

func (r *AnalysisRepository) FindByKey(ctx context.Context, imageName, analysisType string) (*domain.Record, error) {
	return r.queryOne(ctx, selectColumns+`
WHERE image_name=$1 AND analysis_type=$2
ORDER BY created_at DESC, id DESC
LIMIT 1;`, imageName, analysisType)
}

// Replace overwrites the mutable columns; id and created_at stay
func (r *AnalysisRepository) Replace(ctx context.Context, rec *domain.Record) error {
	key, ok := canonicalID(rec.ID)
	if !ok {
		return domain.ErrNotFound
	}
	const q = `
UPDATE image_analyses
SET descriptions=$1, metadata=$2, image_url=$3, image_base64=$4,
    image_object_key=$5, updated_at=GREATEST(updated_at + interval '1 millisecond', $6)
WHERE id=$7;`

	descs, meta, err := encodeJSON(rec.Descriptions, rec.Metadata)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, q, descs, meta,
		nullIfEmpty(rec.ImageURL), nullIfEmpty(rec.ImageBase64), nullIfEmpty(rec.ImageObjectKey),
		rec.UpdatedAt, key)
	if err != nil {
		return wrapErr("replacing analysis", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *AnalysisRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return wrapErr("pinging postgres", r.db.PingContext(ctx))
}
