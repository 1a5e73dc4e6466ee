package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/i474232898/weather-etl/internal/weather"
)

// MinioConfig addresses an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// MinioStore keeps artifacts as <prefix>/<ds>.json objects. PutObject replaces
// existing objects, which gives the same overwrite-per-date behavior as FileStore.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStore connects and creates the bucket when it does not exist.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinioStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *MinioStore) key(ds weather.Date) string {
	return path.Join(s.prefix, ds.ArtifactName())
}

func (s *MinioStore) Put(ctx context.Context, ds weather.Date, raw []byte) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.key(ds), bytes.NewReader(raw), int64(len(raw)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

func (s *MinioStore) Get(ctx context.Context, ds weather.Date) ([]byte, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.key(ds), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translate(ds, err)
	}
	defer obj.Close()

	raw, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.translate(ds, err)
	}
	return raw, nil
}

func (s *MinioStore) translate(ds weather.Date, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s/%s", weather.ErrNotFound, s.bucket, s.key(ds))
	}
	return err
}
