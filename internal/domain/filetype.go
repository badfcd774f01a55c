package domain

import (
	"path/filepath"
	"strings"
)

// FileType is a supported upload format.
type FileType string

const (
	FileTypePDF      FileType = "pdf"
	FileTypeDOCX     FileType = "docx"
	FileTypeText     FileType = "txt"
	FileTypeMarkdown FileType = "md"
	FileTypeJPG      FileType = "jpg"
	FileTypeJPEG     FileType = "jpeg"
	FileTypePNG      FileType = "png"
)

// IsImage reports whether the type is only reachable through OCR.
func (t FileType) IsImage() bool {
	return t == FileTypeJPG || t == FileTypeJPEG || t == FileTypePNG
}

// ParseFileType maps an extension (with or without the dot) or a file name to a FileType.
func ParseFileType(name string) (FileType, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		ext = strings.ToLower(strings.TrimPrefix(name, "."))
	}
	switch t := FileType(ext); t {
	case FileTypePDF, FileTypeDOCX, FileTypeText, FileTypeMarkdown, FileTypeJPG, FileTypeJPEG, FileTypePNG:
		return t, nil
	}
	return "", &ExtractionError{Path: name, Err: ErrUnsupportedFileType}
}
