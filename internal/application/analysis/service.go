package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jonathandeng7/ART/internal/application"
	domain "github.com/jonathandeng7/ART/internal/domain/analysis"
)

// UnpersistedPrefix marks ids handed out for submissions the store did not accept
const UnpersistedPrefix = "unpersisted-"

// Service implements the analysis record use-cases.
// Service is safe for concurrent use as long as its dependencies are.
type Service struct {
	Repo   domain.Repository
	Images domain.ImageArchive // optional
	Clock  application.Clock
	Log    logrus.FieldLogger

	// DegradeOnStoreFailure lets Submit answer with an unpersisted record
	// instead of failing when the store is unreachable.
	DegradeOnStoreFailure bool

	// ImageLinkExpiry bounds presigned image links, defaults to 15 minutes
	ImageLinkExpiry time.Duration
}

// SubmitCommand carries a submission or upsert payload
type SubmitCommand struct {
	ImageName    string
	AnalysisType string
	Descriptions []string
	Metadata     map[string]any
	ImageURL     string
	ImageBase64  string
}

func (c SubmitCommand) validate() error {
	if strings.TrimSpace(c.ImageName) == "" {
		return domain.Invalid("image_name", "is required")
	}
	if strings.TrimSpace(c.AnalysisType) == "" {
		return domain.Invalid("analysis_type", "is required")
	}
	if utf8.RuneCountInString(c.ImageName) > domain.MaxImageNameLength {
		return domain.Invalid("image_name", fmt.Sprintf("must be at most %d characters", domain.MaxImageNameLength))
	}
	if utf8.RuneCountInString(c.AnalysisType) > domain.MaxAnalysisTypeLength {
		return domain.Invalid("analysis_type", fmt.Sprintf("must be at most %d characters", domain.MaxAnalysisTypeLength))
	}
	return nil
}

// SubmitResult tells the caller whether the record actually reached the store
type SubmitResult struct {
	Record    *domain.Record
	Persisted bool
}

// UpsertResult reports whether Upsert created a new record
type UpsertResult struct {
	Record  *domain.Record
	Created bool
}

func (s *Service) now() time.Time {
	return s.Clock.Now().UTC().Truncate(time.Millisecond)
}

func (s *Service) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

// Submit creates a new record with created_at = updated_at = now
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (SubmitResult, error) {
	if err := cmd.validate(); err != nil {
		return SubmitResult{}, err
	}
	now := s.now()
	rec := &domain.Record{
		ImageName:    cmd.ImageName,
		AnalysisType: cmd.AnalysisType,
		Descriptions: cmd.Descriptions,
		Metadata:     cmd.Metadata,
		ImageURL:     cmd.ImageURL,
		ImageBase64:  cmd.ImageBase64,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	rec.Normalize()
	rec.ImageObjectKey = s.archiveImage(ctx, rec)

	log := s.logger().WithFields(logrus.Fields{
		"image_name":    rec.ImageName,
		"analysis_type": rec.AnalysisType,
	})

	if err := s.Repo.Insert(ctx, rec); err != nil {
		if s.DegradeOnStoreFailure && errors.Is(err, domain.ErrStoreUnavailable) {
			rec.ID = domain.RecordID(UnpersistedPrefix + uuid.NewString())
			log.WithError(err).Warn("store unavailable, returning unpersisted record")
			return SubmitResult{Record: rec, Persisted: false}, nil
		}
		return SubmitResult{}, fmt.Errorf("saving analysis: %w", err)
	}

	log.WithField("id", rec.ID).Info("analysis saved")
	return SubmitResult{Record: rec, Persisted: true}, nil
}

// ListAll returns records newest first, truncated to the filter limit
func (s *Service) ListAll(ctx context.Context, f domain.ListFilter) ([]*domain.Record, error) {
	f.Limit = f.EffectiveLimit()
	list, err := s.Repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing analyses: %w", err)
	}
	return normalizeAll(list), nil
}

// GetByID ambil 1 record by id
func (s *Service) GetByID(ctx context.Context, id domain.RecordID) (*domain.Record, error) {
	if strings.TrimSpace(string(id)) == "" {
		return nil, domain.ErrNotFound
	}
	rec, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Normalize()
	return rec, nil
}

// SearchByName does a case-insensitive substring match on image_name
func (s *Service) SearchByName(ctx context.Context, substring string) ([]*domain.Record, error) {
	list, err := s.Repo.SearchByName(ctx, substring)
	if err != nil {
		return nil, fmt.Errorf("searching analyses: %w", err)
	}
	return normalizeAll(list), nil
}

// Update overwrites only the fields present in p and always refreshes updated_at
func (s *Service) Update(ctx context.Context, id domain.RecordID, p domain.Patch) (*domain.Record, error) {
	if strings.TrimSpace(string(id)) == "" {
		return nil, domain.ErrNotFound
	}
	rec, err := s.Repo.Update(ctx, id, p, s.now())
	if err != nil {
		return nil, err
	}
	rec.Normalize()
	s.logger().WithField("id", id).Info("analysis updated")
	return rec, nil
}

// Upsert creates or updates the record keyed on (image_name, analysis_type).
// The lookup and the write are separate store calls, so concurrent upserts
// on one key are last-writer-wins.
func (s *Service) Upsert(ctx context.Context, cmd SubmitCommand) (UpsertResult, error) {
	if err := cmd.validate(); err != nil {
		return UpsertResult{}, err
	}

	existing, err := s.Repo.FindByKey(ctx, cmd.ImageName, cmd.AnalysisType)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		res, err := s.Submit(ctx, cmd)
		if err != nil {
			return UpsertResult{}, err
		}
		if !res.Persisted {
			return UpsertResult{}, fmt.Errorf("saving analysis: %w", domain.ErrStoreUnavailable)
		}
		return UpsertResult{Record: res.Record, Created: true}, nil
	case err != nil:
		return UpsertResult{}, fmt.Errorf("looking up analysis: %w", err)
	}

	existing.Descriptions = cmd.Descriptions
	existing.Metadata = cmd.Metadata
	existing.ImageURL = cmd.ImageURL
	existing.ImageBase64 = cmd.ImageBase64
	existing.UpdatedAt = domain.NextUpdatedAt(existing.UpdatedAt, s.now())
	existing.Normalize()
	// tanpa arsip baru, key lama tetap dipakai
	if key := s.archiveImage(ctx, existing); key != "" {
		existing.ImageObjectKey = key
	}

	if err := s.Repo.Replace(ctx, existing); err != nil {
		return UpsertResult{}, fmt.Errorf("replacing analysis: %w", err)
	}
	s.logger().WithField("id", existing.ID).Info("analysis upserted")
	return UpsertResult{Record: existing, Created: false}, nil
}

// Health pings the store
func (s *Service) Health(ctx context.Context) error {
	return s.Repo.Ping(ctx)
}

func normalizeAll(list []*domain.Record) []*domain.Record {
	if list == nil {
		return []*domain.Record{}
	}
	for _, r := range list {
		r.Normalize()
	}
	return list
}
