package analysis

import (
	"context"
	"io"
	"time"
)

// Repository port for the document store
type Repository interface {
	// Insert stores r and assigns r.ID
	Insert(ctx context.Context, r *Record) error
	Get(ctx context.Context, id RecordID) (*Record, error)
	List(ctx context.Context, f ListFilter) ([]*Record, error)
	SearchByName(ctx context.Context, substring string) ([]*Record, error)
	// Update applies p, sets updated_at and returns the stored record after the change
	Update(ctx context.Context, id RecordID, p Patch, updatedAt time.Time) (*Record, error)
	// FindByKey returns the newest record for the upsert key
	FindByKey(ctx context.Context, imageName, analysisType string) (*Record, error)
	// Replace overwrites every mutable field of the record with r.ID
	Replace(ctx context.Context, r *Record) error
	Ping(ctx context.Context) error
}

// ImageArchive port for keeping a copy of inline image payloads in object storage
type ImageArchive interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Link(ctx context.Context, key string, expiry time.Duration) (string, error)
}
