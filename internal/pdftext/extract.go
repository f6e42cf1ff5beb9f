package pdftext

import (
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"

	"github.com/straja-ai/medner/internal/redact"
)

// FitzExtractor reads text with MuPDF.
type FitzExtractor struct{}

// ExtractText implements Extractor. Pages that fail to render are skipped.
func (FitzExtractor) ExtractText(path string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnableToOpen, err)
	}
	defer doc.Close()

	var sb strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			redact.Logf("pdftext: page %d: %v", i+1, err)
			continue
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// PureExtractor reads text with a pure Go parser. It needs no cgo.
type PureExtractor struct{}

// ExtractText implements Extractor.
func (PureExtractor) ExtractText(path string) (text string, err error) {
	// the parser panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: %v", ErrUnableToOpen, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnableToOpen, err)
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			redact.Logf("pdftext: page %d: %v", i, err)
			continue
		}
		sb.WriteString(content)
	}
	return sb.String(), nil
}
