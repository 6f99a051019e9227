package mediasvc

import (
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/mkrupp/mediavault/internal/util/encoding"
)

const (
	uploadsPrefix    = "uploads/"
	quarantinePrefix = "quarantine/"
	maxNameLength    = 255
)

// UploadPath derives the storage path of content from its hash:
//
//	uploads/YYYY/MM/<crockford base32 of the raw digest><ext>
//
// The client filename never contributes to the path.
func UploadPath(at time.Time, sha256Hex, ext string) (string, error) {
	digest, err := hex.DecodeString(sha256Hex)
	if err != nil {
		return "", fmt.Errorf("decode hash: %w", err)
	}

	at = at.UTC()

	return fmt.Sprintf("%s%04d/%02d/%s%s",
		uploadsPrefix, at.Year(), int(at.Month()), encoding.EncodeCrockfordB32LC(digest), ext,
	), nil
}

// QuarantinePath returns where a quarantined object is moved to.
func QuarantinePath(diskPath string) string {
	return quarantinePrefix + diskPath
}

// SanitizeName reduces a client filename to a display-safe base name.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '/' {
			return -1
		}

		return r
	}, name)

	if name == "." || name == ".." || name == "" {
		return "upload"
	}

	if runes := []rune(name); len(runes) > maxNameLength {
		name = string(runes[:maxNameLength])
	}

	return name
}
