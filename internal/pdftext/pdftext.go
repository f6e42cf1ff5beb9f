// Package pdftext checks that uploads are PDFs and pulls their text out.
package pdftext

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnableToOpen means the file could not be parsed as a PDF container.
	ErrUnableToOpen = errors.New("unable to open PDF")
	// ErrCorrupted means the file content is not a PDF. Its message is
	// returned to API clients as is.
	ErrCorrupted = errors.New("Not a PDF file")
)

// Extractor returns the concatenated text of every page of a PDF.
type Extractor interface {
	ExtractText(path string) (string, error)
}

// Sniffer decides from file content whether a file is a PDF.
type Sniffer interface {
	LooksLikePDF(path string) (bool, error)
}

// Engine names.
const (
	EngineFitz = "fitz"
	EnginePure = "pure"

	SnifferMimetype = "mimetype"
	SnifferFile     = "file"
)

// NewExtractor returns the extractor for engine; empty means fitz.
func NewExtractor(engine string) (Extractor, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", EngineFitz:
		return FitzExtractor{}, nil
	case EnginePure:
		return PureExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown pdf engine %q", engine)
	}
}

// NewSniffer returns the sniffer for name; empty means mimetype.
func NewSniffer(name string) (Sniffer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SnifferMimetype:
		return MimeSniffer{}, nil
	case SnifferFile:
		return FileCommandSniffer{}, nil
	default:
		return nil, fmt.Errorf("unknown pdf sniffer %q", name)
	}
}

// Check runs s and turns a negative answer into ErrCorrupted.
func Check(s Sniffer, path string) error {
	ok, err := s.LooksLikePDF(path)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCorrupted
	}
	return nil
}
