package ingest

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/vietddude/noteably/internal/core/apperr"
)

const bytesPerMB = 1024 * 1024

var (
	AllowedAudioExtensions = []string{"mp3", "wav", "m4a", "aac", "flac"}
	AllowedVideoExtensions = []string{"mp4", "webm", "mov", "avi", "mkv"}
)

// AllowedExtensions lists every accepted media extension.
var AllowedExtensions = slices.Concat(AllowedAudioExtensions, AllowedVideoExtensions)

// ValidateFile checks the extension allow-list and the size limit.
func ValidateFile(filename string, size int64, maxSizeMB float64) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !slices.Contains(AllowedExtensions, ext) {
		return apperr.Newf(apperr.KindInvalidFile,
			"File type '%s' not supported. Allowed extensions: %s", ext, strings.Join(AllowedExtensions, ", "),
		).WithDetails(map[string]any{"allowed_extensions": AllowedExtensions})
	}
	if size <= 0 {
		return apperr.New(apperr.KindInvalidFile, "File is empty")
	}
	if mb := SizeMB(size); maxSizeMB > 0 && mb > maxSizeMB {
		return apperr.Newf(apperr.KindInvalidFile,
			"File too large (%.1fMB). Max allowed: %gMB", mb, maxSizeMB,
		).WithDetails(map[string]any{"max_size": maxSizeMB})
	}
	return nil
}

// SizeMB converts bytes to megabytes.
func SizeMB(size int64) float64 {
	return float64(size) / bytesPerMB
}

// EstimateMinutes approximates media duration from size: about one minute
// per megabyte of compressed audio or video.
func EstimateMinutes(size int64) float64 {
	return SizeMB(size)
}

// EstimateProcessingSeconds is the processing time reported to the client.
func EstimateProcessingSeconds(size int64) int {
	return int(SizeMB(size) / 10 * 30)
}
