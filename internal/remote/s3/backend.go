package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/objectfs/cloudfile/internal/remote"
	"github.com/objectfs/cloudfile/pkg/errors"
	"github.com/objectfs/cloudfile/pkg/utils"
)

// API is the subset of the S3 client used by Backend.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config represents S3 backend configuration
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
}

// Backend stores each site under "<site>/" in one bucket. Directories are
// zero-length objects whose key ends in "/".
type Backend struct {
	client API
	bucket string
	logger utils.Logger
}

// Option customizes a Backend.
type Option func(*Backend)

// WithLogger sets the backend logger.
func WithLogger(l utils.Logger) Option {
	return func(b *Backend) { b.logger = utils.OrNop(l).WithComponent("s3") }
}

// New creates a backend with a client built from cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "bucket name cannot be empty").
			WithComponent("s3")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		// Retries belong to the retry executor.
		config.WithRetryMaxAttempts(1),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigLoad, "failed to load AWS config", err).
			WithComponent("s3")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return NewWithClient(client, cfg.Bucket, opts...), nil
}

// NewWithClient creates a backend around an existing client.
func NewWithClient(client API, bucket string, opts ...Option) *Backend {
	b := &Backend{
		client: client,
		bucket: bucket,
		logger: utils.NopLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Upload stores data at path.
func (b *Backend) Upload(ctx context.Context, site, path string, data []byte) error {
	key := objectKey(site, path)
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(detectContentType(path)),
	})
	if err != nil {
		return b.translateError(err, "upload", site, path)
	}
	b.logger.Debug("Uploaded object", map[string]interface{}{
		"key":  key,
		"size": len(data),
	})
	return nil
}

// Download returns the content at path.
func (b *Backend) Download(ctx context.Context, site, path string) ([]byte, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey(site, path)),
	})
	if err != nil {
		return nil, b.translateError(err, "download", site, path)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStorageRead, "failed to read object body", err).
			WithComponent("s3").
			WithOperation("download").
			WithContext("path", path).
			WithRetryable(true)
	}
	return data, nil
}

// Exists reports whether path is an object or a directory.
func (b *Backend) Exists(ctx context.Context, site, path string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey(site, path)),
	})
	if err == nil {
		return true, nil
	}
	if !isNotFound(err) {
		return false, b.translateError(err, "exists", site, path)
	}
	return b.hasPrefix(ctx, site, path)
}

// Delete removes an object, or a directory and everything below it.
func (b *Backend) Delete(ctx context.Context, site, path string) error {
	key := objectKey(site, path)
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return b.deleteKey(ctx, key, site, path)
	}
	if !isNotFound(err) {
		return b.translateError(err, "delete", site, path)
	}

	keys, err := b.keysUnder(ctx, site, path)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return remote.NotFound("s3", "delete", site, path)
	}
	for _, k := range keys {
		if err := b.deleteKey(ctx, k, site, path); err != nil {
			return err
		}
	}
	return nil
}

// Move copies from to to and then deletes from.
func (b *Backend) Move(ctx context.Context, site, from, to string) error {
	src := objectKey(site, from)
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(objectKey(site, to)),
		CopySource: aws.String(copySource(b.bucket, src)),
	})
	if err != nil {
		return b.translateError(err, "move", site, from)
	}
	return b.deleteKey(ctx, src, site, from)
}

// List returns the direct children of dir.
func (b *Backend) List(ctx context.Context, site, dir string) ([]remote.Entry, error) {
	prefix := dirPrefix(site, dir)
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var (
		entries []remote.Entry
		found   bool
	)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, b.translateError(err, "list", site, dir)
		}
		for _, cp := range page.CommonPrefixes {
			found = true
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			entries = append(entries, remote.Entry{
				Name:  name,
				Path:  utils.JoinPath(dir, name),
				IsDir: true,
			})
		}
		for _, obj := range page.Contents {
			found = true
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				// Directory marker for dir itself.
				continue
			}
			entries = append(entries, remote.Entry{
				Name:     name,
				Path:     utils.JoinPath(dir, name),
				Size:     aws.ToInt64(obj.Size),
				Modified: aws.ToTime(obj.LastModified),
			})
		}
	}

	if !found && dir != "" {
		return nil, remote.NotFound("s3", "list", site, dir)
	}
	if entries == nil {
		entries = []remote.Entry{}
	}
	return entries, nil
}

// CreateDirectory writes the directory marker for dir.
func (b *Backend) CreateDirectory(ctx context.Context, site, dir string) error {
	if dir == "" {
		return nil
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(dirPrefix(site, dir)),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return b.translateError(err, "create_directory", site, dir)
	}
	return nil
}

func (b *Backend) deleteKey(ctx context.Context, key, site, path string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return b.translateError(err, "delete", site, path)
	}
	return nil
}

func (b *Backend) hasPrefix(ctx context.Context, site, dir string) (bool, error) {
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(dirPrefix(site, dir)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, b.translateError(err, "exists", site, dir)
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

func (b *Backend) keysUnder(ctx context.Context, site, dir string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(dirPrefix(site, dir)),
	})
	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, b.translateError(err, "delete", site, dir)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// translateError maps SDK errors onto CloudFileError. The HTTP status is
// recorded with WithStatus for the retry classifier.
func (b *Backend) translateError(err error, operation, site, path string) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isNotFound(err) {
		return remote.NotFound("s3", operation, site, path)
	}

	status := httpStatus(err)
	code := errors.ErrCodeRemoteGeneral
	retryable := false

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown":
			code, retryable = errors.ErrCodeThrottled, true
		case "InternalError", "ServiceUnavailable":
			code, retryable = errors.ErrCodeRemoteStatus, true
		case "AccessDenied", "Forbidden":
			code = errors.ErrCodeAccessDenied
		case "NoSuchBucket":
			code = errors.ErrCodeInvalidConfig
		}
	}

	msg := fmt.Sprintf("s3 %s failed", operation)
	if status > 0 {
		msg = fmt.Sprintf("s3 %s returned %d", operation, status)
	}
	cfErr := errors.Wrap(code, msg, err).
		WithComponent("s3").
		WithOperation(operation).
		WithContext("site", site).
		WithContext("path", path).
		WithContext("bucket", b.bucket)
	if status > 0 {
		cfErr = cfErr.WithStatus(status)
	}
	if retryable {
		cfErr = cfErr.WithRetryable(true)
	}
	return cfErr
}

func isNotFound(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if stderrors.As(err, &noSuchKey) || stderrors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return httpStatus(err) == 404
}

func httpStatus(err error) int {
	var re interface{ HTTPStatusCode() int }
	if stderrors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

func objectKey(site, path string) string {
	return site + "/" + path
}

func dirPrefix(site, dir string) string {
	if dir == "" {
		return site + "/"
	}
	return site + "/" + dir + "/"
}

func copySource(bucket, key string) string {
	parts := strings.Split(bucket+"/"+key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func detectContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".xml"):
		return "application/xml"
	case strings.HasSuffix(key, ".html"):
		return "text/html"
	case strings.HasSuffix(key, ".txt"), strings.HasSuffix(key, ".csv"):
		return "text/plain"
	case strings.HasSuffix(key, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(key, ".docx"):
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case strings.HasSuffix(key, ".xlsx"):
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
