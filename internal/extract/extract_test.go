package extract

import (
	"archive/zip"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writeDOCX(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create(docxBody)
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestExtract_Text(t *testing.T) {
	path := writeFile(t, "a.txt", []byte("hello\xffworld"))
	text, err := New(nil).Extract(context.Background(), path, domain.FileTypeText)
	require.NoError(t, err)
	assert.Equal(t, "hello�world", text)

	path = writeFile(t, "a.md", []byte("# Title\n\nbody"))
	text, err = New(nil).Extract(context.Background(), path, domain.FileTypeMarkdown)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nbody", text)
}

func TestExtract_DOCX(t *testing.T) {
	path := writeDOCX(t, `
<w:p><w:r><w:t>First</w:t></w:r><w:r><w:t xml:space="preserve"> paragraph</w:t></w:r></w:p>
<w:p></w:p>
<w:tbl>
  <w:tr><w:tc><w:p><w:r><w:t>a1</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>b1</w:t></w:r></w:p></w:tc></w:tr>
  <w:tr><w:tc><w:p><w:r><w:t>a2</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>b2</w:t></w:r></w:p></w:tc></w:tr>
</w:tbl>
<w:p><w:r><w:t>Last</w:t><w:tab/><w:t>line</w:t></w:r></w:p>`)
	text, err := New(nil).Extract(context.Background(), path, domain.FileTypeDOCX)
	require.NoError(t, err)
	assert.Equal(t, "First paragraph\n\na1 | b1\n\na2 | b2\n\nLast\tline", text)
}

func TestExtract_DOCXWithoutBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	_, err = zw.Create("word/styles.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = New(nil).Extract(context.Background(), path, domain.FileTypeDOCX)
	var ee *domain.ExtractionError
	assert.ErrorAs(t, err, &ee)
}

func TestExtract_ImagePlaceholder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pic.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 4, 3))))
	require.NoError(t, f.Close())

	text, err := New(nil).Extract(context.Background(), path, domain.FileTypePNG)
	require.NoError(t, err)
	assert.Contains(t, text, "Dimensions: 4x3")
	assert.Contains(t, text, "Format: png")
	assert.Contains(t, text, "OCR not available")

	broken := writeFile(t, "broken.jpg", []byte("not an image"))
	text, err = New(nil).Extract(context.Background(), broken, domain.FileTypeJPG)
	require.NoError(t, err)
	assert.Equal(t, "Image file: broken.jpg (OCR not available)", text)
}

func TestExtract_Failures(t *testing.T) {
	ex := New(nil)
	var ee *domain.ExtractionError

	_, err := ex.Extract(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), domain.FileTypeText)
	assert.ErrorAs(t, err, &ee)

	_, err = ex.Extract(context.Background(), writeFile(t, "bad.pdf", []byte("%PDF-garbage")), domain.FileTypePDF)
	assert.ErrorAs(t, err, &ee)

	_, err = ex.Extract(context.Background(), writeFile(t, "x.exe", []byte("x")), domain.FileType("exe"))
	assert.True(t, errors.Is(err, domain.ErrUnsupportedFileType))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ex.Extract(ctx, writeFile(t, "a.txt", []byte("a")), domain.FileTypeText)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFingerprint(t *testing.T) {
	a := writeFile(t, "a.txt", []byte(""))
	fp, err := Fingerprint(a)
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", fp)

	b := writeFile(t, "b.txt", []byte(strings.Repeat("x", 10)))
	fp2, err := Fingerprint(b)
	require.NoError(t, err)
	assert.NotEqual(t, fp, fp2)

	_, err = Fingerprint(filepath.Join(t.TempDir(), "none"))
	var ee *domain.ExtractionError
	assert.ErrorAs(t, err, &ee)
}
