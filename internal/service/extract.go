package service

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// extractText turns a stored object into ingestible text. PDF pages are
// joined with pageBreak so no chunk spans two pages.
func extractText(key string, body []byte) (string, error) {
	if strings.EqualFold(path.Ext(key), ".pdf") {
		return pdfText(body)
	}
	if !utf8.Valid(body) {
		return "", fmt.Errorf("not valid UTF-8")
	}
	return string(body), nil
}

func pdfText(body []byte) (text string, err error) {
	// the reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read pdf page %d: %w", i, err)
		}
		pages = append(pages, content)
	}
	return strings.Join(pages, pageBreak), nil
}
