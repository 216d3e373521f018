package usecase

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/taxdash/docsync/internal/core/domain"
)

// MaxUploadBytes is the default upload size cap (10 MiB).
const MaxUploadBytes = 10 << 20

var allowedExtensions = map[string]struct{}{
	".pdf":  {},
	".doc":  {},
	".docx": {},
	".xls":  {},
	".xlsx": {},
	".csv":  {},
}

// ValidateFile enforces the upload policy before any network call: size cap
// and extension allow-list. A rejected file never produces a document.
func ValidateFile(name string, size, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = MaxUploadBytes
	}
	if size > maxBytes {
		return domain.WrapError(domain.ErrInvalidInput, "validate file",
			fmt.Errorf("%q exceeds maximum size of %d bytes", name, maxBytes))
	}
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := allowedExtensions[ext]; !ok {
		return domain.WrapError(domain.ErrInvalidInput, "validate file",
			fmt.Errorf("format %q is not allowed", ext))
	}
	return nil
}
