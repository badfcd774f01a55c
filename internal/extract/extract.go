// Package extract turns stored uploads into plain text.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"ragchat/internal/domain"
)

type Extractor struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Extractor{log: log}
}

// Extract returns the text of the file at path. Images never fail on
// missing OCR; they yield a descriptive placeholder instead.
func (e *Extractor) Extract(ctx context.Context, path string, fileType domain.FileType) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &domain.ExtractionError{Path: path, Err: err}
	}
	var (
		text string
		err  error
	)
	switch fileType {
	case domain.FileTypePDF:
		text, err = extractPDF(ctx, path)
	case domain.FileTypeDOCX:
		text, err = extractDOCX(path)
	case domain.FileTypeText, domain.FileTypeMarkdown:
		text, err = extractText(path)
	case domain.FileTypeJPG, domain.FileTypeJPEG, domain.FileTypePNG:
		text, err = describeImage(path)
		if err == nil {
			e.log.Warn("OCR not available, indexing image description only", "path", path)
		}
	default:
		err = fmt.Errorf("%w: %q", domain.ErrUnsupportedFileType, fileType)
	}
	if err != nil {
		return "", &domain.ExtractionError{Path: path, Err: err}
	}
	e.log.Debug("extracted text", "path", path, "type", fileType, "bytes", len(text))
	return text, nil
}

func extractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), "\uFFFD"), nil
}

// Fingerprint returns the hex SHA-256 of the file contents.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &domain.ExtractionError{Path: path, Err: err}
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", &domain.ExtractionError{Path: path, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
