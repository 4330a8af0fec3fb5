package mongo

import (
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	domain "github.com/jonathandeng7/ART/internal/domain/analysis"
)

const (
	fieldID             = "_id"
	fieldImageName      = "image_name"
	fieldAnalysisType   = "analysis_type"
	fieldDescriptions   = "descriptions"
	fieldMetadata       = "metadata"
	fieldImageURL       = "image_url"
	fieldImageBase64    = "image_base64"
	fieldImageObjectKey = "image_object_key"
	fieldCreatedAt      = "created_at"
	fieldUpdatedAt      = "updated_at"
)

// recordDoc is the stored shape of a record
type recordDoc struct {
	ID             bson.ObjectID  `bson:"_id,omitempty"`
	ImageName      string         `bson:"image_name"`
	AnalysisType   string         `bson:"analysis_type"`
	Descriptions   []string       `bson:"descriptions"`
	Metadata       map[string]any `bson:"metadata"`
	ImageURL       *string        `bson:"image_url"`
	ImageBase64    *string        `bson:"image_base64"`
	ImageObjectKey string         `bson:"image_object_key,omitempty"`
	CreatedAt      time.Time      `bson:"created_at"`
	UpdatedAt      time.Time      `bson:"updated_at"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toDoc(r *domain.Record) recordDoc {
	d := recordDoc{
		ImageName:      r.ImageName,
		AnalysisType:   r.AnalysisType,
		Descriptions:   r.Descriptions,
		Metadata:       r.Metadata,
		ImageURL:       optional(r.ImageURL),
		ImageBase64:    optional(r.ImageBase64),
		ImageObjectKey: r.ImageObjectKey,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if d.Descriptions == nil {
		d.Descriptions = []string{}
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	if oid, ok := parseID(r.ID); ok {
		d.ID = oid
	}
	return d
}

func (d recordDoc) toRecord() *domain.Record {
	r := &domain.Record{
		ID:             domain.RecordID(d.ID.Hex()),
		ImageName:      d.ImageName,
		AnalysisType:   d.AnalysisType,
		Descriptions:   d.Descriptions,
		Metadata:       d.Metadata,
		ImageURL:       deref(d.ImageURL),
		ImageBase64:    deref(d.ImageBase64),
		ImageObjectKey: d.ImageObjectKey,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
	r.Normalize()
	return r
}

// parseID converts a hex id, ok=false for malformed ids
func parseID(id domain.RecordID) (bson.ObjectID, bool) {
	oid, err := bson.ObjectIDFromHex(string(id))
	if err != nil {
		return bson.ObjectID{}, false
	}
	return oid, true
}

func listFilter(f domain.ListFilter) bson.D {
	if f.AnalysisType == "" {
		return bson.D{}
	}
	return bson.D{{Key: fieldAnalysisType, Value: f.AnalysisType}}
}

// nameFilter matches the substring literally and case-insensitively
func nameFilter(substring string) bson.D {
	return bson.D{{Key: fieldImageName, Value: bson.Regex{
		Pattern: regexp.QuoteMeta(substring),
		Options: "i",
	}}}
}

func keyFilter(imageName, analysisType string) bson.D {
	return bson.D{
		{Key: fieldImageName, Value: imageName},
		{Key: fieldAnalysisType, Value: analysisType},
	}
}

func newestFirst() bson.D {
	return bson.D{{Key: fieldCreatedAt, Value: -1}, {Key: fieldID, Value: -1}}
}

// patchUpdate builds a one-stage update pipeline; updated_at is always advanced
func patchUpdate(p domain.Patch, updatedAt time.Time) bson.A {
	set := bson.D{{Key: fieldUpdatedAt, Value: advanceUpdatedAt(updatedAt)}}
	if p.Descriptions != nil {
		descs := *p.Descriptions
		if descs == nil {
			descs = []string{}
		}
		set = append(set, bson.E{Key: fieldDescriptions, Value: literal(descs)})
	}
	if p.Metadata != nil {
		set = append(set, bson.E{Key: fieldMetadata, Value: literal(p.Metadata)})
	}
	return bson.A{bson.D{{Key: "$set", Value: set}}}
}

// replaceUpdate overwrites every mutable field, id and created_at stay
func replaceUpdate(r *domain.Record) bson.A {
	d := toDoc(r)
	return bson.A{bson.D{{Key: "$set", Value: bson.D{
		{Key: fieldDescriptions, Value: literal(d.Descriptions)},
		{Key: fieldMetadata, Value: literal(d.Metadata)},
		{Key: fieldImageURL, Value: literal(d.ImageURL)},
		{Key: fieldImageBase64, Value: literal(d.ImageBase64)},
		{Key: fieldImageObjectKey, Value: literal(d.ImageObjectKey)},
		{Key: fieldUpdatedAt, Value: advanceUpdatedAt(d.UpdatedAt)},
	}}}}
}

// advanceUpdatedAt: max(candidate, stored + 1ms); $add on a date counts milliseconds
func advanceUpdatedAt(candidate time.Time) bson.D {
	return bson.D{{Key: "$max", Value: bson.A{
		candidate,
		bson.D{{Key: "$add", Value: bson.A{"$" + fieldUpdatedAt, domain.TimestampStep.Milliseconds()}}},
	}}}
}

// literal stops a pipeline stage from reading "$..." strings as field paths
func literal(v any) bson.D {
	return bson.D{{Key: "$literal", Value: v}}
}
