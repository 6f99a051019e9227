package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/infra/logging"
)

const s3DriverName = "s3"

// S3DriverConfig holds configuration for an S3-compatible object store.
type S3DriverConfig struct {
	// Endpoint overrides the provider endpoint, e.g. "https://minio.example.com"
	Endpoint string `env:"ENDPOINT" default:""`

	Region          string `env:"REGION" default:"us-east-1"`
	Bucket          string `env:"BUCKET" default:""`
	AccessKeyID     string `env:"ACCESS_KEY_ID" default:""`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY" default:""`
	UsePathStyle    bool   `env:"USE_PATH_STYLE" default:"false"`

	AllowedHostSuffixes []string `env:"ALLOWED_HOST_SUFFIXES" default:""`
	BlockedHostSuffixes []string `env:"BLOCKED_HOST_SUFFIXES" default:""`
	AllowPrivateIPs     bool     `env:"ALLOW_PRIVATE_IPS" default:"false"`
	AllowIPLiteral      bool     `env:"ALLOW_IP_LITERAL" default:"false"`
	AllowHTTP           bool     `env:"ALLOW_HTTP" default:"false"`

	// TimeoutSeconds bounds every request to the object store
	TimeoutSeconds int `env:"TIMEOUT_SECONDS" default:"30"`
}

// Policy extracts the endpoint policy from the config.
func (cfg S3DriverConfig) Policy() EndpointPolicy {
	return EndpointPolicy{
		AllowedHostSuffixes: cfg.AllowedHostSuffixes,
		BlockedHostSuffixes: cfg.BlockedHostSuffixes,
		AllowPrivateIPs:     cfg.AllowPrivateIPs,
		AllowIPLiteral:      cfg.AllowIPLiteral,
		AllowHTTP:           cfg.AllowHTTP,
	}
}

// S3API is the subset of *s3.Client used by S3Driver.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(
		ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options),
	) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(
		ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options),
	) (*s3.ListObjectsV2Output, error)
}

// S3Driver implements Driver against an S3-compatible API.
type S3Driver struct {
	client S3API
	bucket string
	log    logging.Logger
}

var _ Driver = (*S3Driver)(nil)

// NewS3Driver validates the endpoint and builds a client whose dialer re-checks
// every connection against the same guard. A nil resolver uses net.DefaultResolver.
func NewS3Driver(ctx context.Context, cfg S3DriverConfig, resolver Resolver) (driver *S3Driver, err error) {
	log := logging.GetLogger("repo.storage.s3_driver").With(
		logging.Group("storage", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket, "region", cfg.Region),
	)

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "init storage failed", "error", err)
		} else {
			log.DebugContext(ctx, "init storage")
		}
	}()

	guard := NewEndpointGuard(cfg.Policy(), resolver)
	if err := guard.Validate(ctx, cfg.Endpoint); err != nil {
		return nil, err
	}

	allowLoopback := false

	if cfg.Endpoint != "" {
		if parsed, err := url.Parse(cfg.Endpoint); err == nil {
			allowLoopback = isDevLoopbackHost(normalizeHost(parsed.Hostname()))
		}
	}

	httpClient := awshttp.NewBuildableClient().
		WithTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second).
		WithDialerOptions(func(dialer *net.Dialer) {
			dialer.Control = guard.DialControl(allowLoopback)
		})

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.HTTPClient = httpClient
		o.UsePathStyle = cfg.UsePathStyle

		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewS3DriverWithClient(client, cfg.Bucket), nil
}

// NewS3DriverWithClient wraps an existing client without endpoint validation.
func NewS3DriverWithClient(client S3API, bucket string) *S3Driver {
	return &S3Driver{
		client: client,
		bucket: bucket,
		log:    logging.GetLogger("repo.storage.s3_driver").With(logging.Group("storage", "bucket", bucket)),
	}
}

// Name implements Driver.
func (d *S3Driver) Name() string {
	return s3DriverName
}

func (d *S3Driver) key(objectPath string) (string, error) {
	if objectPath == "" || strings.HasPrefix(objectPath, "/") || strings.ContainsRune(objectPath, 0) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidPath, objectPath)
	}

	for _, segment := range strings.Split(objectPath, "/") {
		if segment == ".." || segment == "." {
			return "", fmt.Errorf("%w: %q", domain.ErrInvalidPath, objectPath)
		}
	}

	return objectPath, nil
}

// Put implements Driver. The SDK needs a seekable body to sign the payload,
// so callers should pass an *os.File or *bytes.Reader.
func (d *S3Driver) Put(ctx context.Context, objectPath string, body io.Reader, size int64) (err error) {
	defer func() {
		if err != nil {
			d.log.ErrorContext(ctx, "object put failed", "path", objectPath, "error", err)
		} else {
			d.log.DebugContext(ctx, "object stored", "path", objectPath, "size", size)
		}
	}()

	key, err := d.key(objectPath)
	if err != nil {
		return err
	}

	if _, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}); err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	return nil
}

// Get implements Driver.
func (d *S3Driver) Get(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	key, err := d.key(objectPath)
	if err != nil {
		return nil, err
	}

	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", classifyS3Error(err))
	}

	return out.Body, nil
}

// Delete implements Driver. S3 deletes are idempotent.
func (d *S3Driver) Delete(ctx context.Context, objectPath string) (err error) {
	defer func() {
		if err != nil {
			d.log.ErrorContext(ctx, "object delete failed", "path", objectPath, "error", err)
		} else {
			d.log.DebugContext(ctx, "object deleted", "path", objectPath)
		}
	}()

	key, err := d.key(objectPath)
	if err != nil {
		return err
	}

	if _, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	}); err != nil {
		if err = classifyS3Error(err); errors.Is(err, domain.ErrObjectNotFound) {
			return nil
		}

		return fmt.Errorf("delete object: %w", err)
	}

	return nil
}

// Exists implements Driver.
func (d *S3Driver) Exists(ctx context.Context, objectPath string) (bool, error) {
	if _, err := d.Stat(ctx, objectPath); err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// Stat implements Driver.
func (d *S3Driver) Stat(ctx context.Context, objectPath string) (domain.ObjectInfo, error) {
	key, err := d.key(objectPath)
	if err != nil {
		return domain.ObjectInfo{}, err
	}

	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return domain.ObjectInfo{}, fmt.Errorf("head object: %w", classifyS3Error(err))
	}

	return domain.ObjectInfo{
		Path:    objectPath,
		Size:    aws.ToInt64(out.ContentLength),
		ModTime: aws.ToTime(out.LastModified),
	}, nil
}

// List implements Driver, paging through ListObjectsV2 lazily.
func (d *S3Driver) List(ctx context.Context, prefix string) iter.Seq2[domain.ObjectInfo, error] {
	return func(yield func(domain.ObjectInfo, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(d.bucket),
			Prefix: aws.String(prefix),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(domain.ObjectInfo{}, fmt.Errorf("list objects %q: %w", prefix, err))

				return
			}

			for _, object := range page.Contents {
				info := domain.ObjectInfo{
					Path:    aws.ToString(object.Key),
					Size:    aws.ToInt64(object.Size),
					ModTime: aws.ToTime(object.LastModified),
				}

				if !yield(info, nil) {
					return
				}
			}
		}
	}
}

func classifyS3Error(err error) error {
	var (
		noSuchKey *types.NoSuchKey
		notFound  *types.NotFound
		apiErr    smithy.APIError
	)

	switch {
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		return errors.Join(domain.ErrObjectNotFound, err)
	case errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound"):
		return errors.Join(domain.ErrObjectNotFound, err)
	default:
		return err
	}
}
