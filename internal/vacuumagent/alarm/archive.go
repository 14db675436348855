package alarm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/log"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/options"
)

// Archiver receives the full alarm history before it is cleared. The manager
// calls it synchronously from ClearHistory; implementations should bound
// their own I/O time.
type Archiver interface {
	Archive(ctx context.Context, station string, alarms []Alarm) error
}

type S3Archiver struct {
	client *minio.Client
	bucket string
	logger log.Logger
}

// NewS3Archiver builds an object-storage archiver from S3 options. A nil
// archiver (endpoint unset) is handled by the manager.
func NewS3Archiver(opts *options.S3Options) (*S3Archiver, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &S3Archiver{
		client: client,
		bucket: opts.BucketName,
		logger: log.WithName("alarm.archive"),
	}, nil
}

// EnsureBucket creates the archive bucket if it does not exist. Called once
// at agent startup so a misconfigured endpoint fails early.
func (a *S3Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		a.logger.Info("archive bucket missing, creating", "bucket", a.bucket)
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// Archive uploads the history as one timestamped JSON object per clear.
func (a *S3Archiver) Archive(ctx context.Context, station string, alarms []Alarm) error {
	data, err := json.MarshalIndent(alarms, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal alarm history: %w", err)
	}

	key := fmt.Sprintf("%s/alarms-%s.json", station, time.Now().UTC().Format("20060102T150405Z"))
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload alarm archive %s: %w", key, err)
	}
	a.logger.Info("alarm history archived", "bucket", a.bucket, "object", key, "count", len(alarms))
	return nil
}
