package imagesvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/infra/authclient"
	context_ "github.com/mkrupp/mediavault/internal/infra/context"
	"github.com/mkrupp/mediavault/internal/infra/logging"
	http_ "github.com/mkrupp/mediavault/internal/infra/transport/http"
	"github.com/mkrupp/mediavault/internal/svc/mediasvc"
)

// multipartOverhead covers form boundaries and part headers on top of the upload limit.
const multipartOverhead = 64 << 10

var (
	// ErrNoMultipartFiles is returned for upload requests without a file part.
	ErrNoMultipartFiles = errors.New("no multipart files")

	// ErrForbidden is returned when an anonymous request may not read the media.
	ErrForbidden = errors.New("forbidden")
)

// HTTPTransportConfig contains configuration parameters for the HTTP transport layer.
type HTTPTransportConfig struct {
	http_.HTTPTransportConfig

	// MultipartFileName is the form field name for file uploads.
	// Default is "upload".
	MultipartFileName string `env:"MULTIPART_FILE_NAME" default:"upload"`

	// URLMediaParam is the URL parameter name for media UUIDs.
	// Default is "media_uuid".
	URLMediaParam string `env:"URL_MEDIA_PARAM" default:"media_uuid"`

	// URLVariantParam is the URL parameter name for thumbnail variants.
	// Default is "variant".
	URLVariantParam string `env:"URL_VARIANT_PARAM" default:"variant"`

	// URLSignatureParam is the query parameter carrying a signed URL token.
	// Default is "sig".
	URLSignatureParam string `env:"URL_SIGNATURE_PARAM" default:"sig"`

	// ContentDispositionDownload controls whether files are served with download headers.
	// Default is false.
	ContentDispositionDownload bool `env:"CONTENT_DISPOSITION_DOWNLOAD" default:"false"`

	// MultipartFormMaxMemory is the maximum allowed memory for multipart form uploads.
	// Default is 10MB.
	MultipartFormMaxMemory int64 `env:"MULTIPART_FORM_MAX_SIZE" default:"10485760"`
}

// URLSigner issues and checks time-limited access tokens.
type URLSigner interface {
	Enabled() bool
	Issue(ctx context.Context, mediaUUID string) (domain.SignedURL, error)
	Verify(ctx context.Context, mediaUUID, token string) error
}

// HTTPTransport handles HTTP requests for stored media and their thumbnails.
type HTTPTransport struct {
	mediaSvc   mediasvc.MediaService
	imageSvc   ImageService
	signer     URLSigner
	authClient authclient.AuthClient
	log        logging.Logger
	cfg        HTTPTransportConfig
	mux        *http.ServeMux
}

var _ http_.HTTPTransport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a new HTTPTransport instance with the given configuration.
// Requests carrying a token are authenticated against authClient; anonymous
// requests are served according to the media public mode.
func NewHTTPTransport(
	mediaSvc mediasvc.MediaService,
	imageSvc ImageService,
	signer URLSigner,
	authClient authclient.AuthClient,
	cfg HTTPTransportConfig,
) *HTTPTransport {
	ht := &HTTPTransport{
		mediaSvc:   mediaSvc,
		imageSvc:   imageSvc,
		signer:     signer,
		authClient: authClient,
		log:        logging.GetLogger("svc.imagesvc.http_transport"),
		cfg:        cfg,
	}

	mediaPath := fmt.Sprintf("/media/{%s}", cfg.URLMediaParam)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /media", ht.HandleUpload)
	mux.HandleFunc("GET "+mediaPath, ht.HandleDownload)
	mux.HandleFunc(fmt.Sprintf("GET %s/thumbs/{%s}", mediaPath, cfg.URLVariantParam), ht.HandleThumb)
	mux.HandleFunc(fmt.Sprintf("POST %s/signed-url", mediaPath), ht.HandleSignedURL)
	mux.HandleFunc("GET /p/{public_token}", ht.HandlePublic)
	ht.mux = mux

	return ht
}

// ServeHTTP implements http.Handler and sets up routes for the media endpoints:
// - POST /media: Upload media (authenticated)
// - GET /media/{uuid}: Download media
// - GET /media/{uuid}/thumbs/{variant}: Download a thumbnail
// - POST /media/{uuid}/signed-url: Issue a signed URL (authenticated)
// - GET /p/{public_token}: Download public media by share token
func (ht *HTTPTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	http_.AuthorizingMiddleware(ht.mux, ht.authClient, ht.log, true).ServeHTTP(w, r)
}

// HandleUpload processes upload requests.
// Expects a multipart form with one or more files in the MultipartFileName field.
func (ht *HTTPTransport) HandleUpload(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleUpload(w, r)
}

func (ht *HTTPTransport) handleUpload(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "media upload failed", "error", err)
		} else {
			log.DebugContext(ctx, "media uploaded")
		}
	}(r.Context())

	if _, ok := context_.ActorFromContext(r.Context()); !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)

		return ErrForbidden
	}

	r.Body = http.MaxBytesReader(w, r.Body, ht.mediaSvc.UploadLimit()+multipartOverhead)

	if err := r.ParseMultipartForm(ht.cfg.MultipartFormMaxMemory); err != nil {
		status := http.StatusBadRequest

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}

		http.Error(w, http.StatusText(status), status)

		return fmt.Errorf("parse multipart form: %w", err)
	}

	defer func() { _ = r.MultipartForm.RemoveAll() }()

	fileHeaders := r.MultipartForm.File[ht.cfg.MultipartFileName]
	if len(fileHeaders) == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

		return ErrNoMultipartFiles
	}

	responses := make([]domain.UploadResponse, 0, len(fileHeaders))

	for _, fileHeader := range fileHeaders {
		result, err := ht.processFile(r.Context(), fileHeader)
		if err != nil {
			writeError(w, err)

			return fmt.Errorf("upload %s: %w", fileHeader.Filename, err)
		}

		log.DebugContext(r.Context(), "media stored", logging.Group("media",
			"uuid", result.File.UUID,
			"filename", result.File.OriginalName,
			"size", result.File.SizeBytes,
			"deduplicated", result.WasDeduplicated,
		))

		responses = append(responses, domain.NewUploadResponse(result.File, result.WasDeduplicated))
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(responses); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return nil
}

func (ht *HTTPTransport) processFile(ctx context.Context, fileHeader *multipart.FileHeader) (mediasvc.UploadResult, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return mediasvc.UploadResult{}, fmt.Errorf("open: %w", err)
	}
	defer file.Close()

	//nolint:wrapcheck
	return ht.mediaSvc.Upload(ctx, mediasvc.UploadRequest{
		Body:         file,
		Filename:     fileHeader.Filename,
		DeclaredMIME: fileHeader.Header.Get("Content-Type"),
		Actor:        context_.ActorRef(ctx),
	})
}

// HandleDownload serves the original content of a media object.
func (ht *HTTPTransport) HandleDownload(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleDownload(w, r)
}

func (ht *HTTPTransport) handleDownload(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "media download failed", "error", err)
		} else {
			log.DebugContext(ctx, "media downloaded")
		}
	}(r.Context())

	file, err := ht.authorizedMedia(r)
	if err != nil {
		writeError(w, err)

		return err
	}

	return ht.serveOriginal(w, r, file)
}

// HandlePublic serves public media by share token.
func (ht *HTTPTransport) HandlePublic(w http.ResponseWriter, r *http.Request) {
	_ = ht.handlePublic(w, r)
}

func (ht *HTTPTransport) handlePublic(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "public download failed", "error", err)
		} else {
			log.DebugContext(ctx, "public media downloaded")
		}
	}(r.Context())

	if ht.mediaSvc.PublicMode() == mediasvc.PublicModePrivate {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)

		return ErrForbidden
	}

	file, err := ht.mediaSvc.GetByPublicToken(r.Context(), r.PathValue("public_token"))
	if err != nil {
		writeError(w, err)

		return fmt.Errorf("get by token: %w", err)
	}

	return ht.serveOriginal(w, r, file)
}

func (ht *HTTPTransport) serveOriginal(w http.ResponseWriter, r *http.Request, file domain.MediaFile) error {
	reader, err := ht.mediaSvc.Open(r.Context(), file)
	if err != nil {
		writeError(w, err)

		return fmt.Errorf("open: %w", err)
	}
	defer reader.Close()

	if ht.cfg.ContentDispositionDownload {
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(file.OriginalName))
	}

	w.Header().Set("Content-Type", file.MIMEType)
	w.Header().Set("Content-Length", strconv.FormatInt(file.SizeBytes, 10))
	w.Header().Set("ETag", strconv.Quote(file.SHA256))

	if _, err := io.Copy(w, reader); err != nil {
		return fmt.Errorf("write to: %w", err)
	}

	return nil
}

// HandleThumb serves a thumbnail variant, generating it on first request.
func (ht *HTTPTransport) HandleThumb(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleThumb(w, r)
}

func (ht *HTTPTransport) handleThumb(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "thumb download failed", "error", err)
		} else {
			log.DebugContext(ctx, "thumb downloaded")
		}
	}(r.Context())

	file, err := ht.authorizedMedia(r)
	if err != nil {
		writeError(w, err)

		return err
	}

	thumb, err := ht.imageSvc.ResolveThumb(r.Context(), file.UUID, r.PathValue(ht.cfg.URLVariantParam))
	if err != nil {
		writeError(w, err)

		return fmt.Errorf("resolve thumb: %w", err)
	}

	if !thumb.Generatable() {
		http.Error(w, string(thumb.Reason), http.StatusUnprocessableEntity)

		return nil
	}

	w.Header().Set("Content-Type", thumb.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(thumb.Body)))

	if _, err := w.Write(thumb.Body); err != nil {
		return fmt.Errorf("write to: %w", err)
	}

	return nil
}

// HandleSignedURL issues a time-limited URL for a media object.
func (ht *HTTPTransport) HandleSignedURL(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleSignedURL(w, r)
}

func (ht *HTTPTransport) handleSignedURL(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "signed url failed", "error", err)
		} else {
			log.DebugContext(ctx, "signed url issued")
		}
	}(r.Context())

	if _, ok := context_.ActorFromContext(r.Context()); !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)

		return ErrForbidden
	}

	file, err := ht.mediaSvc.Get(r.Context(), r.PathValue(ht.cfg.URLMediaParam))
	if err != nil {
		writeError(w, err)

		return fmt.Errorf("get media: %w", err)
	}

	signed, err := ht.signer.Issue(r.Context(), file.UUID)
	if err != nil {
		writeError(w, err)

		return fmt.Errorf("issue: %w", err)
	}

	query := url.Values{ht.cfg.URLSignatureParam: {signed.Token}}

	w.Header().Set("Content-Type", "application/json")

	//nolint:exhaustruct
	if err := json.NewEncoder(w).Encode(domain.SignedURLResponse{
		URL:       "/media/" + url.PathEscape(file.UUID) + "?" + query.Encode(),
		Token:     signed.Token,
		ExpiresAt: signed.ExpiresAt.Unix(),
	}); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return nil
}

// authorizedMedia loads the media named in the path and checks that the
// request may read it: authenticated actors always may, anonymous requests
// depend on the public mode.
func (ht *HTTPTransport) authorizedMedia(r *http.Request) (domain.MediaFile, error) {
	file, err := ht.mediaSvc.Get(r.Context(), r.PathValue(ht.cfg.URLMediaParam))
	if err != nil {
		return domain.MediaFile{}, fmt.Errorf("get media: %w", err)
	}

	if _, ok := context_.ActorFromContext(r.Context()); ok {
		return file, nil
	}

	switch ht.mediaSvc.PublicMode() {
	case mediasvc.PublicModeAll:
		if file.IsPublic {
			return file, nil
		}
	case mediasvc.PublicModeSigned:
		if token := r.URL.Query().Get(ht.cfg.URLSignatureParam); token != "" {
			if err := ht.signer.Verify(r.Context(), file.UUID, token); err != nil {
				return domain.MediaFile{}, fmt.Errorf("verify signature: %w", err)
			}

			return file, nil
		}
	}

	// unauthorized reads look like missing media
	return domain.MediaFile{}, fmt.Errorf("%w: %w", domain.ErrMediaNotFound, ErrForbidden)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrMediaNotFound), errors.Is(err, domain.ErrUnknownVariant),
		errors.Is(err, domain.ErrObjectNotFound), errors.Is(err, domain.ErrSigningDisabled):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrSignatureInvalid), errors.Is(err, domain.ErrSignatureExpired):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidMIME):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, domain.ErrOversize):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrQuarantined):
		status = http.StatusGone
	}

	http.Error(w, http.StatusText(status), status)
}
