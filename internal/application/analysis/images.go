package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/jonathandeng7/ART/internal/domain/analysis"
)

const defaultImageLinkExpiry = 15 * time.Minute

// archiveImage copies the inline payload of rec into the image archive and
// returns the object key, or "" when there is nothing to archive or the copy failed.
func (s *Service) archiveImage(ctx context.Context, rec *domain.Record) string {
	if s.Images == nil || rec.ImageBase64 == "" {
		return ""
	}
	log := s.logger().WithField("image_name", rec.ImageName)

	data, contentType, err := DecodeImagePayload(rec.ImageBase64)
	if err != nil {
		log.WithError(err).Warn("skipping image archive")
		return ""
	}

	key := ObjectKey(rec.AnalysisType, rec.ImageName)
	if err := s.Images.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		log.WithError(err).Warn("image archive upload failed")
		return ""
	}
	log.WithField("key", key).Debug("image archived")
	return key
}

// ImageLink returns a short-lived download link for the archived copy of a record's image
func (s *Service) ImageLink(ctx context.Context, id domain.RecordID) (string, error) {
	rec, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if s.Images == nil || rec.ImageObjectKey == "" {
		return "", domain.ErrNotFound
	}
	expiry := s.ImageLinkExpiry
	if expiry <= 0 {
		expiry = defaultImageLinkExpiry
	}
	link, err := s.Images.Link(ctx, rec.ImageObjectKey, expiry)
	if err != nil {
		return "", fmt.Errorf("presigning image: %w", err)
	}
	return link, nil
}

// ObjectKey builds <analysis_type>/<uuid>-<image_name>
func ObjectKey(analysisType, imageName string) string {
	name := path.Base(strings.ReplaceAll(imageName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "image"
	}
	return fmt.Sprintf("%s/%s-%s", sanitizeSegment(analysisType), uuid.NewString(), name)
}

func sanitizeSegment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, s)
	if s == "" {
		return "untyped"
	}
	return s
}

// DecodeImagePayload accepts raw base64 or a data URI and returns the bytes with a content type.
func DecodeImagePayload(payload string) ([]byte, string, error) {
	declared := ""
	raw := strings.TrimSpace(payload)
	if strings.HasPrefix(raw, "data:") {
		comma := strings.IndexByte(raw, ',')
		if comma < 0 {
			return nil, "", fmt.Errorf("malformed data URI")
		}
		meta := raw[len("data:"):comma]
		if !strings.HasSuffix(meta, ";base64") {
			return nil, "", fmt.Errorf("data URI is not base64 encoded")
		}
		declared = strings.TrimSuffix(meta, ";base64")
		raw = raw[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		// some clients strip the padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(raw, "="))
		if err != nil {
			return nil, "", fmt.Errorf("decoding base64 image: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty image payload")
	}

	contentType := declared
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
