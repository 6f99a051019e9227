package domain

// UploadResponse is returned to clients after an upload.
type UploadResponse struct {
	UUID            string `json:"uuid"`
	Filename        string `json:"filename"`
	MIMEType        string `json:"mimeType"`
	SizeBytes       int64  `json:"sizeBytes"`
	SHA256          string `json:"sha256"`
	WasDeduplicated bool   `json:"wasDeduplicated"`
}

// NewUploadResponse builds the client view of an upload result.
func NewUploadResponse(file MediaFile, deduplicated bool) UploadResponse {
	return UploadResponse{
		UUID:            file.UUID,
		Filename:        file.OriginalName,
		MIMEType:        file.MIMEType,
		SizeBytes:       file.SizeBytes,
		SHA256:          file.SHA256,
		WasDeduplicated: deduplicated,
	}
}

// SignedURLResponse carries a time-limited access token for a media object.
type SignedURLResponse struct {
	URL       string `json:"url"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}
