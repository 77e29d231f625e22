package validation

import (
	"fmt"
	"mime"
	"strings"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
)

var allowedUploadTypes = map[string]string{
	"image/png":       "PNG",
	"image/jpeg":      "JPEG",
	"image/webp":      "WebP",
	"application/pdf": "PDF",
}

// NormalizeMIME lowercases a media type, drops parameters and folds known aliases.
func NormalizeMIME(mimeType string) string {
	value := strings.TrimSpace(mimeType)
	if mediaType, _, err := mime.ParseMediaType(value); err == nil {
		value = mediaType
	} else if i := strings.IndexByte(value, ';'); i >= 0 {
		value = value[:i]
	}
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "image/jpg" || value == "image/pjpeg" {
		return "image/jpeg"
	}
	return value
}

// CheckUpload enforces the document allow-list and the size ceiling.
func CheckUpload(mimeType string, size int64) error {
	normalized := NormalizeMIME(mimeType)
	if _, ok := allowedUploadTypes[normalized]; !ok {
		if normalized == "" {
			normalized = "unknown"
		}
		return fmt.Errorf("%w: %s (allowed: PNG, JPEG, WebP, PDF)", domain.ErrUnsupportedFileType, normalized)
	}
	if size > domain.MaxUploadBytes {
		return fmt.Errorf("%w: %d bytes exceeds the 10 MiB limit", domain.ErrFileTooLarge, size)
	}
	return nil
}

// UploadTypeLabel returns the short name of an allowed type, or "" when not allowed.
func UploadTypeLabel(mimeType string) string {
	return allowedUploadTypes[NormalizeMIME(mimeType)]
}
