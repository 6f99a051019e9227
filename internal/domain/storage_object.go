package domain

import (
	"errors"
	"time"
)

var (
	// ErrObjectNotFound is returned by storage drivers for missing paths.
	ErrObjectNotFound = errors.New("object not found")
	// ErrInvalidPath is returned for paths that are empty or escape the storage root.
	ErrInvalidPath = errors.New("invalid storage path")
	// ErrStorageListFailed is returned when enumerating a storage prefix fails.
	ErrStorageListFailed = errors.New("storage_list_failed")
	// ErrUnknownDisk is returned when a storage disk name is not configured.
	ErrUnknownDisk = errors.New("unknown_disk")
)

// Reason codes raised while validating an S3 endpoint.
var (
	ErrS3EndpointInvalidURL     = errors.New("s3_endpoint_invalid_url")
	ErrS3EndpointMissingHost    = errors.New("s3_endpoint_missing_host")
	ErrS3EndpointMustUseHTTPS   = errors.New("s3_endpoint_must_use_https")
	ErrS3EndpointPrivateIP      = errors.New("s3_endpoint_resolves_to_private_ip")
	ErrS3EndpointUnresolvable   = errors.New("s3_endpoint_unresolvable")
	ErrS3EndpointIPLiteral      = errors.New("s3_endpoint_ip_literal_not_allowed")
	ErrS3EndpointHostBlocked    = errors.New("s3_endpoint_host_blocked")
	ErrS3EndpointHostNotAllowed = errors.New("s3_endpoint_host_not_allowed")
)

// ObjectInfo describes a stored object as observed on the backend.
type ObjectInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}
