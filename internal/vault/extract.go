package vault

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/kanren/internal/textutil"
)

// extractBody returns the text of a vault file without its title, chosen by
// extension (lower-case, with the leading dot).
func extractBody(content []byte, ext string) (string, error) {
	switch ext {
	case ".md", ".markdown":
		return textutil.CleanMarkdown(plainText(content)), nil
	case ".pdf":
		return extractPDF(content)
	case ".xlsx":
		return extractExcel(content)
	default:
		return strings.TrimSpace(plainText(content)), nil
	}
}

// plainText returns content as a string, replacing invalid UTF-8 sequences.
func plainText(content []byte) string {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "�")
	}
	return string(content)
}

func extractPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n"), nil
}

// extractExcel renders each sheet the way markdown tables are flattened: the
// first row is the header and every following row becomes a
// "Header: value, Header: value." sentence.
func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var lines []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		header := rows[0]
		if len(rows) == 1 {
			lines = append(lines, strings.Join(header, ", "))
			continue
		}
		for _, row := range rows[1:] {
			if s := rowSentence(header, row); s != "" {
				lines = append(lines, s)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

func rowSentence(header, row []string) string {
	var parts []string
	for i, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		if i < len(header) && strings.TrimSpace(header[i]) != "" {
			parts = append(parts, strings.TrimSpace(header[i])+": "+cell)
		} else {
			parts = append(parts, cell)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ", ") + "."
}
