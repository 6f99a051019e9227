package mediasvc

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/mkrupp/mediavault/internal/domain"
)

// SniffLen is the number of leading bytes inspected to detect a content type.
const SniffLen = 3072

// MimeSniffer detects content types from file content, never from client input.
type MimeSniffer struct{}

// Sniff returns the detected type of header without parameters, e.g. "image/png".
// An empty header yields domain.ErrInvalidMIME.
func (MimeSniffer) Sniff(header []byte) (string, error) {
	if len(header) == 0 {
		return "", fmt.Errorf("%w: empty content", domain.ErrInvalidMIME)
	}

	if len(header) > SniffLen {
		header = header[:SniffLen]
	}

	detected := mimetype.Detect(header).String()
	mimeType, _, _ := strings.Cut(detected, ";")

	return strings.ToLower(strings.TrimSpace(mimeType)), nil
}

// Extension returns the canonical file extension including the dot, or "" if unknown.
func (MimeSniffer) Extension(mimeType string) string {
	if detected := mimetype.Lookup(mimeType); detected != nil {
		return detected.Extension()
	}

	return ""
}
