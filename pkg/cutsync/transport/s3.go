package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jamesainslie/cutsync/pkg/cutsync/logging"
)

// s3API is the slice of the AWS SDK the transport uses. Tests substitute
// a mock; production uses *s3.Client.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Transport stores documents in an S3 (or S3-compatible) bucket and
// names them with s3://bucket/key URLs.
type S3Transport struct {
	client s3API
	bucket string
	prefix string
	logger *logging.Logger
}

// NewS3 creates an S3 transport from the default AWS credential chain.
// Endpoint and PathStyle support S3-compatible stores such as MinIO.
func NewS3(ctx context.Context, opts Options) (*S3Transport, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts.PathStyle {
			o.UsePathStyle = true
		}
	})

	return newS3WithClient(client, opts.Bucket, opts.Prefix), nil
}

// newS3WithClient wires an explicit API client; tests use it directly.
func newS3WithClient(client s3API, bucket, prefix string) *S3Transport {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Transport{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logging.Get("transport"),
	}
}

// Upload puts size bytes from r at <prefix><name> and returns the
// object's s3:// URL.
func (t *S3Transport) Upload(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	contentType, err := detectContentType(r)
	if err != nil {
		return "", err
	}

	key := t.prefix + name
	objectURL := fmt.Sprintf("s3://%s/%s", t.bucket, key)

	_, err = t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", classifyS3(err, objectURL)
	}

	t.logger.Debug("uploaded", "url", objectURL, "bytes", size)
	return objectURL, nil
}

// Download streams the object at rawURL into w. The URL must use the
// s3://bucket/key form produced by Upload.
func (t *S3Transport) Download(ctx context.Context, rawURL string, w io.Writer) error {
	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return err
	}

	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyS3(err, rawURL)
	}
	defer out.Body.Close()

	n, err := io.Copy(w, out.Body)
	if err != nil {
		return fmt.Errorf("failed to stream %s: %w", rawURL, err)
	}
	t.logger.Debug("downloaded", "url", rawURL, "bytes", n)
	return nil
}

// ParseS3URL splits an s3://bucket/key URL into bucket and key.
func ParseS3URL(rawURL string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(rawURL, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 URL: %s", rawURL)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 URL: %s", rawURL)
	}
	return bucket, key, nil
}

// classifyS3 maps SDK failures onto the package sentinels. The SDK wraps
// service codes several layers deep, so classification inspects the
// rendered error text.
func classifyS3(err error, url string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, url, err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound"):
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	case strings.Contains(msg, "AccessDenied") || strings.Contains(msg, "Forbidden") ||
		strings.Contains(msg, "InvalidAccessKeyId") || strings.Contains(msg, "SignatureDoesNotMatch"):
		return fmt.Errorf("%w: %s: %v", ErrAuthRequired, url, err)
	case strings.Contains(msg, "Timeout") || strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("%w: %s: %v", ErrTimeout, url, err)
	default:
		return fmt.Errorf("%s: %w", url, err)
	}
}
