package storage

import (
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
)

// MinioStore keeps artifacts in a MinIO (or any S3 compatible) bucket
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the endpoint and creates the bucket if missing
func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, secure bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, apperr.External(err, "failed to create MinIO client")
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, apperr.External(err, "failed to check bucket %s", bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, apperr.External(err, "failed to create bucket %s", bucket)
		}
	}

	return &MinioStore{client: client, bucket: bucket}, nil
}

// Put uploads the content at path
func (s *MinioStore) Put(ctx context.Context, p string, r io.Reader, size int64) error {
	cleaned, err := CleanPath(p)
	if err != nil {
		return err
	}
	if cleaned == "" {
		return apperr.Invalid("artifact path must not be empty")
	}

	_, err = s.client.PutObject(ctx, s.bucket, cleaned, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return wrapBackend(err, "upload", cleaned)
	}
	return nil
}

// Get downloads the content at path. GetObject is lazy, so the object is
// stat'ed first to report a missing key as not found.
func (s *MinioStore) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	cleaned, err := CleanPath(p)
	if err != nil {
		return nil, err
	}

	if _, err := s.client.StatObject(ctx, s.bucket, cleaned, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, apperr.NotFound("artifact", cleaned)
		}
		return nil, wrapBackend(err, "stat", cleaned)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, cleaned, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapBackend(err, "download", cleaned)
	}
	return obj, nil
}

// List returns the direct children of dir
func (s *MinioStore) List(ctx context.Context, dir string) ([]models.ArtifactInfo, error) {
	cleaned, err := CleanPath(dir)
	if err != nil {
		return nil, err
	}

	prefix := dirPrefix(cleaned)
	var out []models.ArtifactInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: false}) {
		if obj.Err != nil {
			return nil, wrapBackend(obj.Err, "list", cleaned)
		}

		name := strings.TrimPrefix(obj.Key, prefix)
		if name == "" {
			continue
		}
		if strings.HasSuffix(name, "/") {
			out = append(out, models.ArtifactInfo{Path: objectKey(cleaned, strings.TrimSuffix(name, "/")), IsDir: true})
			continue
		}
		out = append(out, models.ArtifactInfo{Path: objectKey(cleaned, name), FileSize: obj.Size})
	}
	return out, nil
}
