package chunkstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Backend stores chunk payloads as objects in an S3-compatible bucket,
// keyed <hh>/<hash> to mirror the POSIX shard layout.
type S3Backend struct {
	client *miniogo.Client
	bucket string
}

var _ BlobBackend = (*S3Backend)(nil)

func NewS3Backend(conf *Config) (*S3Backend, error) {
	client, err := miniogo.New(conf.S3Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(conf.S3AccessKey, conf.S3SecretKey, ""),
		Secure: conf.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client for %s: %w", conf.S3Endpoint, err)
	}
	return &S3Backend{client: client, bucket: conf.S3Bucket}, nil
}

func (s *S3Backend) Name() string {
	return BackendS3
}

func (s *S3Backend) EnsureContainer(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err = s.client.MakeBucket(ctx, s.bucket, miniogo.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	logger.Infof("Created backend bucket %s", s.bucket)
	return nil
}

func (s *S3Backend) Location(hash string) string {
	return path.Join(shardOf(hash), hash)
}

func (s *S3Backend) Upload(ctx context.Context, hash string, data []byte) (string, error) {
	key := s.Location(hash)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		miniogo.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return "", fmt.Errorf("failed to upload chunk %s: %w", hash, err)
	}
	return key, nil
}

func (s *S3Backend) Download(ctx context.Context, hash string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.Location(hash), miniogo.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk %s: %w", hash, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		resp := miniogo.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, hash)
		}
		return nil, err
	}
	return data, nil
}

func (s *S3Backend) Delete(ctx context.Context, hash string) error {
	return s.client.RemoveObject(ctx, s.bucket, s.Location(hash), miniogo.RemoveObjectOptions{})
}

func (s *S3Backend) List(ctx context.Context) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, miniogo.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		names = append(names, path.Base(obj.Key))
	}
	return names, nil
}
