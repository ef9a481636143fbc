package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Storage stores snapshots in an S3 or S3-compatible bucket.
type S3Storage struct {
	client *s3.Client
	bucket string
	cfg    S3Config
}

var _ ObjectStorage = (*S3Storage)(nil)

// S3Config holds configuration for S3 storage.
type S3Config struct {
	Region string
	// Endpoint overrides the service endpoint (MinIO, LocalStack).
	Endpoint string
	// UsePathStyle is required by most S3-compatible servers.
	UsePathStyle bool
	// StorageClass applies to every upload, e.g. STANDARD_IA. Empty uses
	// the bucket default.
	StorageClass string
	// ServerSideEncryption is "AES256" or "aws:kms". Empty disables it.
	ServerSideEncryption string
	MultipartConfig      MultipartUploadConfig
	// MaxRetries bounds retries of each request (default 3).
	MaxRetries int
}

// DefaultS3Config returns the default S3 configuration.
func DefaultS3Config() S3Config {
	return S3Config{
		Region:          "us-east-1",
		MultipartConfig: DefaultMultipartConfig(),
		MaxRetries:      3,
	}
}

// NewS3Storage creates a client from the default AWS credential chain.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StorageWithClient(client, bucket, cfg), nil
}

// NewS3StorageWithClient wraps a pre-configured client.
func NewS3StorageWithClient(client *s3.Client, bucket string, cfg S3Config) *S3Storage {
	if cfg.MultipartConfig.PartSize <= 0 {
		cfg.MultipartConfig = DefaultMultipartConfig()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &S3Storage{client: client, bucket: bucket, cfg: cfg}
}

// Upload sends localPath in one PUT, or in parts when it is larger than
// one part. The returned ETag has its quotes removed.
func (s *S3Storage) Upload(ctx context.Context, localPath, objectPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	size := stat.Size()

	var etag string
	err = s.retry(ctx, func() error {
		if size > s.cfg.MultipartConfig.PartSize {
			var err error
			etag, err = s.putMultipart(ctx, file, size, objectPath)
			return err
		}
		in := &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(objectPath),
			Body:          io.NewSectionReader(file, 0, size),
			ContentLength: aws.Int64(size),
		}
		if s.cfg.StorageClass != "" {
			in.StorageClass = types.StorageClass(s.cfg.StorageClass)
		}
		if s.cfg.ServerSideEncryption != "" {
			in.ServerSideEncryption = types.ServerSideEncryption(s.cfg.ServerSideEncryption)
		}
		out, err := s.client.PutObject(ctx, in)
		if err != nil {
			return err
		}
		etag = trimETag(out.ETag)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return etag, nil
}

func (s *S3Storage) putMultipart(ctx context.Context, file *os.File, size int64, objectPath string) (string, error) {
	in := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectPath),
	}
	if s.cfg.StorageClass != "" {
		in.StorageClass = types.StorageClass(s.cfg.StorageClass)
	}
	if s.cfg.ServerSideEncryption != "" {
		in.ServerSideEncryption = types.ServerSideEncryption(s.cfg.ServerSideEncryption)
	}
	created, err := s.client.CreateMultipartUpload(ctx, in)
	if err != nil {
		return "", err
	}
	uploadID := created.UploadId

	parts, err := s.uploadParts(ctx, file, size, objectPath, uploadID)
	if err == nil {
		var done *s3.CompleteMultipartUploadOutput
		done, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(s.bucket),
			Key:             aws.String(objectPath),
			UploadId:        uploadID,
			MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		})
		if err == nil {
			return trimETag(done.ETag), nil
		}
	}

	// The abort runs even when ctx is already cancelled.
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	_, _ = s.client.AbortMultipartUpload(abortCtx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(objectPath),
		UploadId: uploadID,
	})
	return "", err
}

func (s *S3Storage) uploadParts(ctx context.Context, file *os.File, size int64, objectPath string, uploadID *string) ([]types.CompletedPart, error) {
	partSize := s.cfg.MultipartConfig.PartSize
	var parts []types.CompletedPart
	for offset, num := int64(0), int32(1); offset < size; offset, num = offset+partSize, num+1 {
		n := min(partSize, size-offset)
		out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(objectPath),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(num),
			Body:          io.NewSectionReader(file, offset, n),
			ContentLength: aws.Int64(n),
		})
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", num, err)
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(num)})
	}
	return parts, nil
}

// Download fetches an object into localPath. The file appears only once
// the whole body has been written.
func (s *S3Storage) Download(ctx context.Context, objectPath, localPath string) error {
	var out *s3.GetObjectOutput
	err := s.retry(ctx, func() error {
		var err error
		out, err = s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		if isNotFound(err) {
			return ErrObjectNotFound
		}
		return err
	})
	if errors.Is(err, ErrObjectNotFound) {
		return ErrObjectNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer out.Body.Close()

	if err := writeFileAtomic(localPath, out.Body); err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return nil
}

// Delete removes an object. S3 reports success for missing keys, so
// Delete is idempotent.
func (s *S3Storage) Delete(ctx context.Context, objectPath string) error {
	err := s.retry(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		if isNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}

// Exists issues a HEAD request for an object.
func (s *S3Storage) Exists(ctx context.Context, objectPath string) (bool, error) {
	found := false
	err := s.retry(ctx, func() error {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		switch {
		case err == nil:
			found = true
			return nil
		case isNotFound(err):
			found = false
			return nil
		default:
			return err
		}
	})
	return found, err
}

// ListObjects pages through every object under prefix, sorted by path.
func (s *S3Storage) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrListFailed, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Path:         aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         trimETag(obj.ETag),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Path < objects[j].Path })
	return objects, nil
}

func trimETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// retry runs op up to MaxRetries+1 times. ErrObjectNotFound and context
// errors end the loop immediately.
func (s *S3Storage) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = op()
		if err == nil || errors.Is(err, ErrObjectNotFound) || attempt >= s.cfg.MaxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay(attempt)):
		}
	}
}

// retryDelay is exponential from 100ms with up to 50% jitter, capped at 5s.
func retryDelay(attempt int) time.Duration {
	d := min(100*time.Millisecond<<min(attempt, 6), 5*time.Second)
	return d/2 + rand.N(d/2+1)
}

// writeFileAtomic copies r into a temporary file next to path and renames
// it into place.
func writeFileAtomic(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
