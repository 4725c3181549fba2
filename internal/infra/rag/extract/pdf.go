// Package extract turns raw source bytes into plain text, one extractor
// per supported Source type. PDF extraction is grounded on the pack's
// go-fitz (MuPDF) page-concatenation approach; go-fitz only opens files
// by path, so bytes are spooled to a temp file first.
package extract

import (
	"fmt"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// PDFText concatenates the text of every page of a PDF held in memory,
// in page order, separated by a blank line.
func PDFText(data []byte) (string, error) {
	tmp, err := os.CreateTemp("", "source-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	doc, err := fitz.New(tmp.Name())
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	var b strings.Builder
	numPages := doc.NumPage()
	for i := 0; i < numPages; i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			continue
		}
		b.WriteString(pageText)
		if i < numPages-1 {
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(b.String()), nil
}
