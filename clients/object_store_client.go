package clients

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/cenkalti/backoff/v4"
	"github.com/livepeer/transcode-pipeline/config"
	xerrors "github.com/livepeer/transcode-pipeline/errors"
	"github.com/livepeer/transcode-pipeline/metrics"
)

var maxRetryInterval = 5 * time.Second

// makeOperation wraps a retryable unit of work; overridden in tests to
// observe each attempt. It does not change the backoff timing.
var makeOperation = func(fn func() error) func() error {
	return fn
}

// ObjectStore wraps the S3-compatible bucket this pipeline reads source
// uploads from and writes encoded outputs to. One instance is shared across
// a worker or API process; it is safe for concurrent use.
type ObjectStore struct {
	api      s3iface.S3API
	uploader *s3manager.Uploader
	bucket   string
}

func NewObjectStore(cfg config.Cli) (*ObjectStore, error) {
	awsCfg := aws.NewConfig().WithRegion("us-east-1")
	if cfg.AWSAccessKeyID != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AWSAccessKeyID, cfg.AWSSecretKey, ""))
	}
	if cfg.S3EndpointURL != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.S3EndpointURL).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}
	api := s3.New(sess)
	return &ObjectStore{
		api:      api,
		uploader: s3manager.NewUploaderWithClient(api),
		bucket:   cfg.S3Bucket,
	}, nil
}

// Download streams an object's body. The caller must Close the result.
func (o *ObjectStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	var out *s3.GetObjectOutput
	err := backoff.Retry(makeOperation(func() error {
		res, err := o.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(o.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		out = res
		return nil
	}), downloadRetryBackoff())

	if err != nil {
		metrics.Metrics.ObjectStoreClient.FailureCount.WithLabelValues("", "read", o.bucket).Inc()
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, xerrors.NewObjectNotFoundError(fmt.Sprintf("%s not found in bucket %s", key, o.bucket), err)
		}
		return nil, fmt.Errorf("failed to read %q from bucket %q: %w", key, o.bucket, err)
	}

	metrics.Metrics.ObjectStoreClient.RequestDuration.WithLabelValues("", "read", o.bucket).Observe(time.Since(start).Seconds())
	return out.Body, nil
}

// Upload writes data to key via a multipart upload, so arbitrarily large
// encoded outputs can be streamed up without buffering the whole file.
// contentType is preserved as object metadata; empty leaves it unset.
func (o *ObjectStore) Upload(ctx context.Context, key, contentType string, data io.Reader) error {
	start := time.Now()
	input := &s3manager.UploadInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
		Body:   data,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	err := backoff.Retry(makeOperation(func() error {
		_, err := o.uploader.UploadWithContext(ctx, input)
		return err
	}), UploadRetryBackoff())

	if err != nil {
		metrics.Metrics.ObjectStoreClient.FailureCount.WithLabelValues("", "write", o.bucket).Inc()
		return fmt.Errorf("failed to write %q to bucket %q: %w", key, o.bucket, err)
	}

	metrics.Metrics.ObjectStoreClient.RequestDuration.WithLabelValues("", "write", o.bucket).Observe(time.Since(start).Seconds())
	return nil
}

// PresignGet returns a time-limited URL a client can use to fetch key
// directly from the object store: the API's download_url and the source
// URL the workers hand to ffmpeg.
func (o *ObjectStore) PresignGet(key string, expiry time.Duration) (string, error) {
	req, _ := o.api.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	return req.Presign(expiry)
}

func downloadRetryBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(newExponentialBackOffExecutor(), 3)
}

func newExponentialBackOffExecutor() *backoff.ExponentialBackOff {
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 200 * time.Millisecond
	backOff.MaxInterval = maxRetryInterval
	backOff.MaxElapsedTime = 0 // don't impose a timeout as part of the retries
	backOff.Reset()
	return backOff
}

func UploadRetryBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(newExponentialBackOffExecutor(), 5)
}
