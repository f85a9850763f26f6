// Package storage uploads finished artifacts to durable object storage and
// returns their externally addressable URIs.
package storage

import (
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type MinioOpts func(c *minioConfig)

type minioConfig struct {
	endpoint        string
	bucket          string
	accessKey       string
	secretAccessKey string
	publicBaseURL   string
	region          string
	useSSL          bool
}

func newConfig(opts ...MinioOpts) *minioConfig {
	cfg := &minioConfig{region: "us-east-1"}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

type MinioUploader struct {
	cfg    *minioConfig
	client *minio.Client
	log    *zap.SugaredLogger
}

func NewMinioUploader(opts ...MinioOpts) (*MinioUploader, error) {
	cfg := newConfig(opts...)
	if cfg.endpoint == "" || cfg.bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}

	client, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
		Region: cfg.region,
	})
	if err != nil {
		return nil, err
	}
	return &MinioUploader{cfg: cfg, client: client, log: zap.S().Named("storage")}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (u *MinioUploader) EnsureBucket(ctx context.Context) error {
	ok, err := u.client.BucketExists(ctx, u.cfg.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", u.cfg.bucket, err)
	}
	if ok {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.cfg.bucket, minio.MakeBucketOptions{Region: u.cfg.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", u.cfg.bucket, err)
	}
	u.log.Infow("bucket created", "bucket", u.cfg.bucket)
	return nil
}

func (u *MinioUploader) Upload(ctx context.Context, localPath, key string) (string, error) {
	info, err := u.client.FPutObject(ctx, u.cfg.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	u.log.Debugw("object stored", "bucket", info.Bucket, "key", info.Key, "size", info.Size)
	return u.PublicURL(key), nil
}

// PublicURL is where clients fetch the object from.
func (u *MinioUploader) PublicURL(key string) string {
	base := u.cfg.publicBaseURL
	if base == "" {
		scheme := "http"
		if u.cfg.useSSL {
			scheme = "https"
		}
		base = scheme + "://" + u.cfg.endpoint
	}
	return strings.TrimRight(base, "/") + "/" + path.Join(u.cfg.bucket, key)
}

var knownTypes = map[string]string{
	".mp4":  "video/mp4",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".mp3":  "audio/mpeg",
}

func contentType(p string) string {
	ext := strings.ToLower(filepath.Ext(p))
	if ct, ok := knownTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func WithEndpoint(endpoint string) MinioOpts {
	return func(c *minioConfig) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) MinioOpts {
	return func(c *minioConfig) {
		c.bucket = bucket
	}
}

func WithAccessKey(accessKey string) MinioOpts {
	return func(c *minioConfig) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) MinioOpts {
	return func(c *minioConfig) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) MinioOpts {
	return func(c *minioConfig) {
		c.useSSL = useSSL
	}
}

func WithPublicBaseURL(u string) MinioOpts {
	return func(c *minioConfig) {
		c.publicBaseURL = u
	}
}

func WithRegion(region string) MinioOpts {
	return func(c *minioConfig) {
		c.region = region
	}
}
