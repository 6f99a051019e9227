package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidMIME is returned when the sniffed content type is not allowed.
	ErrInvalidMIME = errors.New("invalid_mime")
	// ErrOversize is returned when an upload exceeds the size policy for its content type.
	ErrOversize = errors.New("oversize")
	// ErrMediaNotFound is returned when looking up a non-existent media record.
	ErrMediaNotFound = errors.New("media not found")
	// ErrDuplicateHash is returned when a record with the same content hash already exists.
	ErrDuplicateHash = errors.New("duplicate content hash")
	// ErrQuarantined is returned when the media (or an identical upload) is quarantined.
	ErrQuarantined = errors.New("media quarantined")
)

// MediaStatus is the lifecycle state of a media record.
type MediaStatus string

const (
	MediaStatusReady      MediaStatus = "ready"
	MediaStatusQuarantine MediaStatus = "quarantine"
)

// MediaFile is a stored, content-addressed upload.
type MediaFile struct {
	ID             int64       `json:"id"`
	UUID           string      `json:"uuid"`
	DiskPath       string      `json:"diskPath"`
	OriginalName   string      `json:"originalName"`
	MIMEType       string      `json:"mimeType"`
	SizeBytes      int64       `json:"sizeBytes"`
	SHA256         string      `json:"sha256"`
	UploadedBy     *string     `json:"uploadedBy,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	Status         MediaStatus `json:"status"`
	QuarantinePath *string     `json:"quarantinePath,omitempty"`
	IsPublic       bool        `json:"isPublic"`
	PublicToken    *string     `json:"-"`
}

// StoragePath returns the path the object currently lives at.
func (m MediaFile) StoragePath() string {
	if m.Status == MediaStatusQuarantine && m.QuarantinePath != nil {
		return *m.QuarantinePath
	}

	return m.DiskPath
}

// IsImage reports whether the sniffed type is an image type.
func (m MediaFile) IsImage() bool {
	return strings.HasPrefix(m.MIMEType, "image/")
}
