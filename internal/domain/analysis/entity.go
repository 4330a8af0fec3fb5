package analysis

import "time"

// RecordID identifier assigned by the store
type RecordID string

// Record is one stored image analysis document
type Record struct {
	ID             RecordID       `json:"id"`
	ImageName      string         `json:"image_name"`
	AnalysisType   string         `json:"analysis_type"`
	Descriptions   []string       `json:"descriptions"`
	Metadata       map[string]any `json:"metadata"`
	ImageURL       string         `json:"image_url,omitempty"`
	ImageBase64    string         `json:"image_base64,omitempty"`
	ImageObjectKey string         `json:"image_object_key,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Normalize replaces nil collections with empty ones so they encode as [] and {}
func (r *Record) Normalize() {
	if r.Descriptions == nil {
		r.Descriptions = []string{}
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
}

// Patch partial update; nil fields are left untouched
type Patch struct {
	Descriptions *[]string
	Metadata     map[string]any
}

// Empty reports whether the patch carries no field besides the timestamp refresh
func (p Patch) Empty() bool {
	return p.Descriptions == nil && p.Metadata == nil
}

// Key column limits, in characters. The SQL schemas size their columns to match.
const (
	MaxImageNameLength    = 512
	MaxAnalysisTypeLength = 128
)

// DefaultListLimit applies when the caller gives no positive limit
const DefaultListLimit = 50

// ListFilter for ListAll
type ListFilter struct {
	AnalysisType string
	Limit        int
}

// EffectiveLimit returns Limit, or DefaultListLimit when Limit is not positive
func (f ListFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// TimestampStep is the minimum advance of updated_at per mutation
const TimestampStep = time.Millisecond

// NextUpdatedAt returns candidate, or prev+TimestampStep when candidate does not move past prev
func NextUpdatedAt(prev, candidate time.Time) time.Time {
	if candidate.After(prev) {
		return candidate
	}
	return prev.Add(TimestampStep)
}
