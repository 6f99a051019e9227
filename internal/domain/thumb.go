package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownVariant is returned when a thumbnail variant is not configured.
var ErrUnknownVariant = errors.New("unknown thumbnail variant")

// ThumbReason explains why a thumbnail could not be produced.
type ThumbReason string

const (
	ThumbReasonNone            ThumbReason = ""
	ThumbReasonUnsupportedMIME ThumbReason = "unsupported_mime"
	ThumbReasonTooLarge        ThumbReason = "too_large"
)

const thumbPrefix = "thumbs/"

// Thumb is a resolved thumbnail, or the reason it cannot be generated.
type Thumb struct {
	Path     string
	MIMEType string
	Body     []byte
	CacheHit bool
	Reason   ThumbReason
}

// Generatable reports whether the thumbnail carries a body.
func (t Thumb) Generatable() bool {
	return t.Reason == ThumbReasonNone
}

// ThumbPath derives the storage path of a variant:
//
//	thumbs/v<algo>/<media uuid>/<variant>.<ext>
func ThumbPath(algoVersion int, mediaUUID, variant, ext string) string {
	return fmt.Sprintf("%sv%d/%s/%s.%s", thumbPrefix, algoVersion, mediaUUID, variant, ext)
}

// ParseThumbPath is the inverse of ThumbPath. It returns false for paths
// outside the thumbnail namespace.
func ParseThumbPath(path string) (algoVersion int, mediaUUID string, ok bool) {
	rest, found := strings.CutPrefix(path, thumbPrefix)
	if !found {
		return 0, "", false
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 || !strings.HasPrefix(parts[0], "v") || parts[1] == "" {
		return 0, "", false
	}

	version, err := strconv.Atoi(parts[0][1:])
	if err != nil {
		return 0, "", false
	}

	return version, parts[1], true
}
