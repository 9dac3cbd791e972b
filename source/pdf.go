package source

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdfPageSeparator joins the text of consecutive pages.
const pdfPageSeparator = "\n\n---\n\n"

func isPDF(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/pdf")
}

// pdfText extracts the plain text of every page. Pages that fail to parse
// are skipped. A document without any text layer yields a placeholder.
// The pdf package panics on some malformed cross-reference tables, so a
// panic is reported as a parse error.
func pdfText(content []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, perr := page.GetPlainText(nil)
		if perr != nil || strings.TrimSpace(pageText) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(pdfPageSeparator)
		}
		sb.WriteString(strings.TrimSpace(pageText))
	}

	if sb.Len() == 0 {
		return fmt.Sprintf("[pdf document with %d pages, no text content]", pages), nil
	}
	return sb.String(), nil
}
