package pdftext

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const pdfMIME = "application/pdf"

// MimeSniffer detects the type from the leading bytes of the file.
type MimeSniffer struct{}

// LooksLikePDF implements Sniffer.
func (MimeSniffer) LooksLikePDF(path string) (bool, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return false, fmt.Errorf("detect mime type: %w", err)
	}
	return mt.Is(pdfMIME), nil
}

// FileCommandSniffer asks file(1) for the MIME type.
type FileCommandSniffer struct {
	// Command defaults to "file".
	Command string
	Timeout time.Duration
}

// LooksLikePDF implements Sniffer.
func (s FileCommandSniffer) LooksLikePDF(path string) (bool, error) {
	cmdName := s.Command
	if cmdName == "" {
		cmdName = "file"
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, cmdName, "--mime-type", "-b", path).Output()
	if err != nil {
		return false, fmt.Errorf("%s --mime-type: %w", cmdName, err)
	}
	return strings.TrimSpace(string(out)) == pdfMIME, nil
}
