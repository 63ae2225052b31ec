package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dontpanicw/ProductImages/config"
	"github.com/dontpanicw/ProductImages/internal/domain"
	"github.com/dontpanicw/ProductImages/internal/port"
	"github.com/dontpanicw/ProductImages/pkg/retry"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const publicReadPolicy = `{
  "Version": "2012-10-17",
  "Statement": [{
    "Effect": "Allow",
    "Principal": {"AWS": ["*"]},
    "Action": ["s3:GetObject"],
    "Resource": ["%s"]
  }]
}`

var _ port.ObjectStorage = (*ImageMinioStorage)(nil)

type ImageMinioStorage struct {
	mc     *minio.Client
	config *config.Config
	policy retry.Policy
}

// NewMinioClient returns storage that is usable after InitMinio succeeds.
func NewMinioClient(cfg *config.Config) *ImageMinioStorage {
	return &ImageMinioStorage{
		config: cfg,
		policy: retry.Policy{
			MaxAttempts: cfg.UploadMaxAttempts,
			Backoff:     retry.ExponentialBackoff(200 * time.Millisecond),
			ShouldRetry: isRetryable,
		},
	}
}

// InitMinio connects to the object store and creates the bucket if it does not exist.
func (i *ImageMinioStorage) InitMinio() error {
	const op = "ImageMinioStorage.InitMinio"
	log := slog.With("op", op, "bucket", i.config.BucketName)
	ctx := context.Background()

	client, err := minio.New(i.config.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(i.config.MinioRootUser, i.config.MinioRootPassword, ""),
		Secure: i.config.MinioUseSSL,
		Region: i.config.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("%s: failed to create client: %w", op, err)
	}
	i.mc = client

	const attempts = 5
	for k := 0; k < attempts; k++ {
		err = i.ensureBucket(ctx)
		if err == nil {
			return nil
		}
		log.Warn("object store is not ready", "attempt", k+1, "of", attempts, "err", err)
		time.Sleep(3 * time.Second)
	}

	return fmt.Errorf("%s: failed to connect after %d attempts: %w", op, attempts, err)
}

func (i *ImageMinioStorage) ensureBucket(ctx context.Context) error {
	log := slog.With("op", "ImageMinioStorage.ensureBucket", "bucket", i.config.BucketName)

	exists, err := i.mc.BucketExists(ctx, i.config.BucketName)
	if err != nil {
		return err
	}
	if !exists {
		err := i.mc.MakeBucket(ctx, i.config.BucketName, minio.MakeBucketOptions{Region: i.config.MinioRegion})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Info("bucket created")
	} else {
		log.Info("bucket already exists")
	}

	if i.config.MinioPublicRead {
		policy := fmt.Sprintf(publicReadPolicy, policyResource(i.config.BucketName, i.config.ObjectKeyPrefix))
		if err := i.mc.SetBucketPolicy(ctx, i.config.BucketName, policy); err != nil {
			return fmt.Errorf("failed to set public read policy: %w", err)
		}
		log.Info("public read policy applied", "prefix", i.config.ObjectKeyPrefix)
	}
	return nil
}

// PutObject uploads the object and returns its public location. The reader must
// support seeking when more than one attempt is configured.
func (i *ImageMinioStorage) PutObject(ctx context.Context, objectKey string, r io.Reader, size int64, contentType string) (string, error) {
	const op = "ImageMinioStorage.PutObject"
	log := slog.With("op", op, "key", objectKey)

	opts := minio.PutObjectOptions{
		ContentType: contentType,
	}

	info, err := retry.DoWithResult(ctx, i.policy, func() (minio.UploadInfo, error) {
		if s, ok := r.(io.Seeker); ok {
			if _, err := s.Seek(0, io.SeekStart); err != nil {
				return minio.UploadInfo{}, err
			}
		}
		return i.mc.PutObject(ctx, i.config.BucketName, objectKey, r, size, opts)
	})
	if err != nil {
		return "", fmt.Errorf("%w: object %s: %w", domain.ErrUpload, objectKey, err)
	}

	location, err := i.Location(objectKey)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrUpload, err)
	}

	log.Info("object uploaded", "size", info.Size, "location", location)
	return location, nil
}

func (i *ImageMinioStorage) RemoveObject(ctx context.Context, objectKey string) error {
	if objectKey == "" {
		return errors.New("object key cannot be empty")
	}

	err := i.mc.RemoveObject(ctx, i.config.BucketName, objectKey, minio.RemoveObjectOptions{})
	if err != nil {
		var minioErr minio.ErrorResponse
		if errors.As(err, &minioErr) && minioErr.Code == "NoSuchKey" {
			return fmt.Errorf("object %s not found: %w", objectKey, err)
		}
		return fmt.Errorf("failed to remove object %s: %w", objectKey, err)
	}

	slog.Info("object removed", "op", "ImageMinioStorage.RemoveObject", "key", objectKey)
	return nil
}

// Location builds the public URL of an object key.
func (i *ImageMinioStorage) Location(objectKey string) (string, error) {
	if i.config.PublicBaseURL != "" {
		return url.JoinPath(i.config.PublicBaseURL, objectKey)
	}

	scheme := "http"
	if i.config.MinioUseSSL {
		scheme = "https"
	}
	host := i.config.MinioEndpoint
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	u := url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   "/" + i.config.BucketName + "/" + objectKey,
	}
	return u.String(), nil
}

// policyResource is the ARN covering every object under prefix.
func policyResource(bucket, prefix string) string {
	if prefix == "" {
		return "arn:aws:s3:::" + bucket + "/*"
	}
	return "arn:aws:s3:::" + bucket + "/" + prefix + "/*"
}

// isRetryable reports whether an upload failure may succeed on another attempt.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode != 0 && resp.StatusCode < http.StatusInternalServerError {
		return false
	}
	return true
}
