package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathandeng7/ART/internal/application"
	domain "github.com/jonathandeng7/ART/internal/domain/analysis"
	"github.com/jonathandeng7/ART/internal/infra/db/memory"
)

// memRepo is an in-memory Repository used by the service tests.
type memRepo struct {
	mu      sync.Mutex
	seq     int
	records map[domain.RecordID]*domain.Record
	failAll error
}

func newMemRepo() *memRepo {
	return &memRepo{records: map[domain.RecordID]*domain.Record{}}
}

func clone(r *domain.Record) *domain.Record {
	c := *r
	c.Descriptions = append([]string(nil), r.Descriptions...)
	c.Metadata = map[string]any{}
	for k, v := range r.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

func (m *memRepo) Insert(_ context.Context, r *domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}
	m.seq++
	r.ID = domain.RecordID(fmt.Sprintf("rec-%04d", m.seq))
	m.records[r.ID] = clone(r)
	return nil
}

func (m *memRepo) Get(_ context.Context, id domain.RecordID) (*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	r, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(r), nil
}

func (m *memRepo) sorted(match func(*domain.Record) bool) []*domain.Record {
	var out []*domain.Record
	for _, r := range m.records {
		if match(r) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *memRepo) List(_ context.Context, f domain.ListFilter) ([]*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	out := m.sorted(func(r *domain.Record) bool {
		return f.AnalysisType == "" || r.AnalysisType == f.AnalysisType
	})
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memRepo) SearchByName(_ context.Context, substring string) ([]*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(substring)
	return m.sorted(func(r *domain.Record) bool {
		return strings.Contains(strings.ToLower(r.ImageName), needle)
	}), nil
}

func (m *memRepo) Update(_ context.Context, id domain.RecordID, p domain.Patch, at time.Time) (*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if p.Descriptions != nil {
		r.Descriptions = append([]string(nil), (*p.Descriptions)...)
	}
	if p.Metadata != nil {
		r.Metadata = p.Metadata
	}
	r.UpdatedAt = domain.NextUpdatedAt(r.UpdatedAt, at)
	return clone(r), nil
}

func (m *memRepo) FindByKey(_ context.Context, imageName, analysisType string) (*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(r *domain.Record) bool {
		return r.ImageName == imageName && r.AnalysisType == analysisType
	})
	if len(out) == 0 {
		return nil, domain.ErrNotFound
	}
	return out[0], nil
}

func (m *memRepo) Replace(_ context.Context, r *domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; !ok {
		return domain.ErrNotFound
	}
	m.records[r.ID] = clone(r)
	return nil
}

func (m *memRepo) Ping(context.Context) error { return m.failAll }

// stepClock advances one second per call.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type frozenClock time.Time

func (c frozenClock) Now() time.Time { return time.Time(c) }

type fakeArchive struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func (a *fakeArchive) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string) error {
	if a.putErr != nil {
		return a.putErr
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	a.objects[key] = b
	a.types[key] = contentType
	return nil
}

func (a *fakeArchive) Link(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.test/" + key, nil
}

func newTestService(t *testing.T) (*Service, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	log, _ := test.NewNullLogger()
	return &Service{
		Repo:  repo,
		Clock: &stepClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		Log:   log,
	}, repo
}

func museumCommand() SubmitCommand {
	return SubmitCommand{
		ImageName:    "test_artwork.jpg",
		AnalysisType: "museum",
		Descriptions: []string{"A painting"},
		Metadata:     map[string]any{"artist": "X"},
	}
}

func TestService_SubmitThenGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Submit(ctx, museumCommand())
	require.NoError(t, err)
	require.True(t, res.Persisted)
	require.NotEmpty(t, res.Record.ID)
	assert.Equal(t, res.Record.CreatedAt, res.Record.UpdatedAt)

	got, err := svc.GetByID(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, "test_artwork.jpg", got.ImageName)
	assert.Equal(t, "museum", got.AnalysisType)
	assert.Equal(t, []string{"A painting"}, got.Descriptions)
	assert.Equal(t, map[string]any{"artist": "X"}, got.Metadata)
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)

	other, err := svc.Submit(ctx, museumCommand())
	require.NoError(t, err)
	assert.NotEqual(t, res.Record.ID, other.Record.ID)
}

func TestService_SubmitDefaults(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.Submit(context.Background(), SubmitCommand{ImageName: "a.png", AnalysisType: "text"})
	require.NoError(t, err)
	assert.NotNil(t, res.Record.Descriptions)
	assert.Empty(t, res.Record.Descriptions)
	assert.NotNil(t, res.Record.Metadata)
	assert.Empty(t, res.Record.Metadata)
}

func TestService_SubmitValidation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name  string
		cmd   SubmitCommand
		field string
	}{
		{"missing image name", SubmitCommand{AnalysisType: "museum"}, "image_name"},
		{"blank image name", SubmitCommand{ImageName: "  ", AnalysisType: "museum"}, "image_name"},
		{"missing analysis type", SubmitCommand{ImageName: "a.jpg"}, "analysis_type"},
		{"image name too long", SubmitCommand{ImageName: strings.Repeat("é", domain.MaxImageNameLength+1), AnalysisType: "museum"}, "image_name"},
		{"analysis type too long", SubmitCommand{ImageName: "a.jpg", AnalysisType: strings.Repeat("x", domain.MaxAnalysisTypeLength+1)}, "analysis_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tt.cmd)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestService_SubmitAcceptsLongestImageName(t *testing.T) {
	svc, _ := newTestService(t)

	name := strings.Repeat("é", domain.MaxImageNameLength)
	res, err := svc.Submit(context.Background(), SubmitCommand{ImageName: name, AnalysisType: "museum"})
	require.NoError(t, err)
	assert.Equal(t, name, res.Record.ImageName)
}

func TestService_SubmitStoreFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("fails by default", func(t *testing.T) {
		svc, repo := newTestService(t)
		repo.failAll = fmt.Errorf("dial: %w", domain.ErrStoreUnavailable)

		_, err := svc.Submit(ctx, museumCommand())
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	})

	t.Run("degrades when enabled", func(t *testing.T) {
		svc, repo := newTestService(t)
		svc.DegradeOnStoreFailure = true
		repo.failAll = fmt.Errorf("dial: %w", domain.ErrStoreUnavailable)

		res, err := svc.Submit(ctx, museumCommand())
		require.NoError(t, err)
		assert.False(t, res.Persisted)
		assert.True(t, strings.HasPrefix(string(res.Record.ID), UnpersistedPrefix))
	})

	t.Run("non availability errors still fail", func(t *testing.T) {
		svc, repo := newTestService(t)
		svc.DegradeOnStoreFailure = true
		repo.failAll = errors.New("document too large")

		_, err := svc.Submit(ctx, museumCommand())
		assert.Error(t, err)
	})
}

func TestService_ListAll(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Submit(ctx, SubmitCommand{ImageName: fmt.Sprintf("img-%d.jpg", i), AnalysisType: "general"})
		require.NoError(t, err)
	}
	museum, err := svc.Submit(ctx, museumCommand())
	require.NoError(t, err)

	list, err := svc.ListAll(ctx, domain.ListFilter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i := 1; i < len(list); i++ {
		assert.False(t, list[i].CreatedAt.After(list[i-1].CreatedAt), "not sorted by created_at desc")
	}

	all, err := svc.ListAll(ctx, domain.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 6)

	museums, err := svc.ListAll(ctx, domain.ListFilter{AnalysisType: "museum"})
	require.NoError(t, err)
	require.Len(t, museums, 1)
	assert.Equal(t, museum.Record.ID, museums[0].ID)
}

func TestService_SearchByName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"Test_Artwork.jpg", "modern_art.png", "receipt.jpg"} {
		_, err := svc.Submit(ctx, SubmitCommand{ImageName: name, AnalysisType: "museum"})
		require.NoError(t, err)
	}

	got, err := svc.SearchByName(ctx, "art")
	require.NoError(t, err)
	var names []string
	for _, r := range got {
		names = append(names, r.ImageName)
	}
	assert.ElementsMatch(t, []string{"Test_Artwork.jpg", "modern_art.png"}, names)

	none, err := svc.SearchByName(ctx, "nothing-like-this")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestService_UpdatePartial(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Submit(ctx, museumCommand())
	require.NoError(t, err)

	descs := []string{"Updated caption"}
	afterDesc, err := svc.Update(ctx, res.Record.ID, domain.Patch{Descriptions: &descs})
	require.NoError(t, err)
	assert.Equal(t, descs, afterDesc.Descriptions)
	assert.Equal(t, map[string]any{"artist": "X"}, afterDesc.Metadata)
	assert.True(t, afterDesc.UpdatedAt.After(res.Record.UpdatedAt))
	assert.Equal(t, res.Record.CreatedAt, afterDesc.CreatedAt)

	afterMeta, err := svc.Update(ctx, res.Record.ID, domain.Patch{Metadata: map[string]any{"year": "2024"}})
	require.NoError(t, err)
	assert.Equal(t, descs, afterMeta.Descriptions)
	assert.Equal(t, map[string]any{"year": "2024"}, afterMeta.Metadata)
	assert.True(t, afterMeta.UpdatedAt.After(afterDesc.UpdatedAt))

	touched, err := svc.Update(ctx, res.Record.ID, domain.Patch{})
	require.NoError(t, err)
	assert.True(t, touched.UpdatedAt.After(afterMeta.UpdatedAt))
}

func TestService_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, id := range []domain.RecordID{"", "does-not-exist", "zzz!!"} {
		_, err := svc.GetByID(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound, "GetByID(%q)", id)

		_, err = svc.Update(ctx, id, domain.Patch{})
		assert.ErrorIs(t, err, domain.ErrNotFound, "Update(%q)", id)
	}
}

func TestService_UpsertTwiceKeepsOneRecord(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	first, err := svc.Upsert(ctx, SubmitCommand{ImageName: "mona.jpg", AnalysisType: "museum", Descriptions: []string{"v1"}})
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := svc.Upsert(ctx, SubmitCommand{ImageName: "mona.jpg", AnalysisType: "museum", Descriptions: []string{"v2"}})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, first.Record.CreatedAt, second.Record.CreatedAt)
	assert.True(t, second.Record.UpdatedAt.After(first.Record.UpdatedAt))

	require.Len(t, repo.records, 1)
	stored, err := svc.GetByID(ctx, first.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, stored.Descriptions)

	// same name under another type is a different key
	third, err := svc.Upsert(ctx, SubmitCommand{ImageName: "mona.jpg", AnalysisType: "text"})
	require.NoError(t, err)
	assert.True(t, third.Created)
	assert.Len(t, repo.records, 2)
}

func TestService_UpdatedAtAdvancesWithSystemClock(t *testing.T) {
	log, _ := test.NewNullLogger()
	svc := &Service{Repo: memory.NewRecordRepository(), Clock: application.SystemClock{}, Log: log}
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		res, err := svc.Submit(ctx, museumCommand())
		require.NoError(t, err)

		updated, err := svc.Update(ctx, res.Record.ID, domain.Patch{})
		require.NoError(t, err)
		require.True(t, updated.UpdatedAt.After(res.Record.UpdatedAt), "iteration %d", i)

		again, err := svc.Update(ctx, res.Record.ID, domain.Patch{})
		require.NoError(t, err)
		require.True(t, again.UpdatedAt.After(updated.UpdatedAt), "iteration %d", i)
		assert.True(t, again.CreatedAt.Equal(res.Record.CreatedAt))
	}
}

func TestService_UpsertAdvancesUpdatedAtWithFrozenClock(t *testing.T) {
	svc, _ := newTestService(t)
	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.Clock = frozenClock(frozen)
	ctx := context.Background()

	first, err := svc.Upsert(ctx, museumCommand())
	require.NoError(t, err)
	second, err := svc.Upsert(ctx, museumCommand())
	require.NoError(t, err)
	third, err := svc.Upsert(ctx, museumCommand())
	require.NoError(t, err)

	assert.True(t, second.Record.UpdatedAt.After(first.Record.UpdatedAt))
	assert.True(t, third.Record.UpdatedAt.After(second.Record.UpdatedAt))
	assert.True(t, third.Record.CreatedAt.Equal(frozen))
}

func TestService_UpsertKeepsArchivedImageKey(t *testing.T) {
	svc, _ := newTestService(t)
	archive := &fakeArchive{objects: map[string][]byte{}, types: map[string]string{}}
	svc.Images = archive
	ctx := context.Background()

	cmd := museumCommand()
	cmd.ImageBase64 = "aGVsbG8="
	first, err := svc.Upsert(ctx, cmd)
	require.NoError(t, err)
	require.NotEmpty(t, first.Record.ImageObjectKey)
	key := first.Record.ImageObjectKey

	// tanpa image_base64: key lama tidak boleh hilang
	second, err := svc.Upsert(ctx, museumCommand())
	require.NoError(t, err)
	assert.Equal(t, key, second.Record.ImageObjectKey)

	link, err := svc.ImageLink(ctx, first.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://objects.test/"+key, link)

	// tanpa archive terkonfigurasi juga sama
	svc.Images = nil
	cmd.ImageBase64 = "d29ybGQ="
	third, err := svc.Upsert(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, key, third.Record.ImageObjectKey)

	// arsip baru menggantikan key
	svc.Images = archive
	fourth, err := svc.Upsert(ctx, cmd)
	require.NoError(t, err)
	assert.NotEmpty(t, fourth.Record.ImageObjectKey)
	assert.Contains(t, archive.objects, fourth.Record.ImageObjectKey)
}

func TestService_ArchivesInlineImage(t *testing.T) {
	svc, _ := newTestService(t)
	archive := &fakeArchive{objects: map[string][]byte{}, types: map[string]string{}}
	svc.Images = archive
	ctx := context.Background()

	cmd := museumCommand()
	cmd.ImageBase64 = "data:image/png;base64,iVBORw0KGgo="
	res, err := svc.Submit(ctx, cmd)
	require.NoError(t, err)
	require.NotEmpty(t, res.Record.ImageObjectKey)
	assert.True(t, strings.HasPrefix(res.Record.ImageObjectKey, "museum/"))
	assert.True(t, strings.HasSuffix(res.Record.ImageObjectKey, "-test_artwork.jpg"))
	assert.Equal(t, "image/png", archive.types[res.Record.ImageObjectKey])

	link, err := svc.ImageLink(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://objects.test/"+res.Record.ImageObjectKey, link)
}

func TestService_ArchiveFailureStillSaves(t *testing.T) {
	svc, _ := newTestService(t)
	log, hook := test.NewNullLogger()
	svc.Log = log
	svc.Images = &fakeArchive{putErr: errors.New("bucket gone")}

	cmd := museumCommand()
	cmd.ImageBase64 = "aGVsbG8="
	res, err := svc.Submit(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, res.Persisted)
	assert.Empty(t, res.Record.ImageObjectKey)
	assert.Equal(t, "aGVsbG8=", res.Record.ImageBase64)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned)

	_, err = svc.ImageLink(context.Background(), res.Record.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDecodeImagePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		ctype   string
		wantErr bool
	}{
		{"raw padded", "aGVsbG8=", "hello", "text/plain; charset=utf-8", false},
		{"raw unpadded", "aGVsbG8", "hello", "text/plain; charset=utf-8", false},
		{"data uri", "data:image/jpeg;base64,aGVsbG8=", "hello", "image/jpeg", false},
		{"data uri without base64", "data:text/plain,hello", "", "", true},
		{"garbage", "%%%", "", "", true},
		{"empty", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, ctype, err := DecodeImagePayload(tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
			assert.Equal(t, tt.ctype, ctype)
		})
	}
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("Museum Art", "../../etc/passwd")
	assert.True(t, strings.HasPrefix(key, "museum-art/"))
	assert.True(t, strings.HasSuffix(key, "-passwd"))
	assert.NotContains(t, key, "..")

	assert.True(t, strings.HasPrefix(ObjectKey("", "x.jpg"), "untyped/"))
}
