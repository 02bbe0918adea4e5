// Package archive stores console output in object storage and hands out
// time-limited download links.
package archive

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/boardfarm/pkg/log"
	"github.com/autopeer-io/boardfarm/pkg/options"
)

// Archiver stores the console text of a finished job.
type Archiver interface {
	// Archive uploads text and returns a presigned download URL.
	Archive(ctx context.Context, rec Record) (string, error)
}

// Record identifies an archived console log.
type Record struct {
	JobID      string
	Pool       string
	FinishedAt time.Time
	Text       string
}

// ObjectKey returns {pool}/{yyyy}/{mm}/{dd}/{jobID}.log. The pool name keeps
// its "arch/board" form, so every pool gets its own prefix tree.
func ObjectKey(rec Record) string {
	t := rec.FinishedAt.UTC()
	return path.Join(rec.Pool, t.Format("2006"), t.Format("01"), t.Format("02"), rec.JobID+".log")
}

// MinIO implements Archiver on any S3 compatible store.
type MinIO struct {
	client     *minio.Client
	bucketName string
	region     string
	expiry     time.Duration
	logger     log.Logger
}

var _ Archiver = (*MinIO)(nil)

func NewMinIO(opts *options.S3Options) (*MinIO, error) {
	minioOpts := &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	}
	if opts.InsecureSkipVerify {
		minioOpts.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	client, err := minio.New(opts.Endpoint, minioOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIO{
		client:     client,
		bucketName: opts.BucketName,
		region:     opts.Region,
		expiry:     opts.URLExpiry,
		logger:     log.WithName("archive").WithValues("bucket", opts.BucketName),
	}, nil
}

// CheckBucket creates the bucket when it does not exist yet.
func (m *MinIO) CheckBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		m.logger.Info("Bucket does not exist, creating")
		if err := m.client.MakeBucket(ctx, m.bucketName, minio.MakeBucketOptions{Region: m.region}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (m *MinIO) Archive(ctx context.Context, rec Record) (string, error) {
	key := ObjectKey(rec)

	_, err := m.client.PutObject(ctx, m.bucketName, key, strings.NewReader(rec.Text), int64(len(rec.Text)), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
		UserMetadata: map[string]string{
			"job-id": rec.JobID,
			"pool":   rec.Pool,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload console log %s: %w", key, err)
	}
	m.logger.Debug("Console log archived", "key", key, "size", len(rec.Text))

	return m.PresignedURL(ctx, key)
}

// PresignedURL returns a GET link for key valid for the configured expiry.
func (m *MinIO) PresignedURL(ctx context.Context, key string) (string, error) {
	reqParams := make(url.Values)
	reqParams.Set("response-content-type", "text/plain; charset=utf-8")

	u, err := m.client.PresignedGetObject(ctx, m.bucketName, key, m.expiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned url: %w", err)
	}
	return u.String(), nil
}
