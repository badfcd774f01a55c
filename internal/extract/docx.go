package extract

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

// extractDOCX walks word/document.xml in document order. Paragraphs become
// blocks of their own; table rows become cells joined by " | ".
func extractDOCX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name != docxBody {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		return parseDocumentXML(rc)
	}
	return "", errors.New("missing " + docxBody)
}

func parseDocumentXML(r io.Reader) (string, error) {
	var (
		blocks   []string
		para     strings.Builder
		cell     []string
		row      []string
		tblDepth int
		inText   bool
	)
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tblDepth++
			case "tr":
				row = nil
			case "tc":
				cell = nil
			case "p":
				para.Reset()
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := para.String()
				if tblDepth > 0 {
					if strings.TrimSpace(text) != "" {
						cell = append(cell, text)
					}
				} else if strings.TrimSpace(text) != "" {
					blocks = append(blocks, text)
				}
			case "tc":
				row = append(row, strings.Join(cell, " "))
			case "tr":
				if line := strings.Join(row, " | "); strings.TrimSpace(line) != "" {
					blocks = append(blocks, line)
				}
			case "tbl":
				tblDepth--
			}
		}
	}
	return strings.Join(blocks, "\n\n"), nil
}
