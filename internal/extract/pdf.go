package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF reads every page's plain text, prefixing each non-empty page
// with its 1-based number. The pdf reader panics on some malformed input, so
// panics are turned into errors.
func extractPDF(ctx context.Context, path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		pages = append(pages, fmt.Sprintf("Page %d:\n%s", i, content))
	}
	return strings.Join(pages, "\n\n"), nil
}
