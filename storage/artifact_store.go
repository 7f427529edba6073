package storage

import (
	"context"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"pdm-pipeline/config"
	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
)

// ArtifactStore stores run artifacts under slash separated relative paths
type ArtifactStore interface {
	// Put writes the content at path, replacing any previous content
	Put(ctx context.Context, path string, r io.Reader, size int64) error
	// Get opens the content at path; a missing path is a not-found error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	// List returns the direct children of dir
	List(ctx context.Context, dir string) ([]models.ArtifactInfo, error)
}

// Backend names accepted by ARTIFACT_BACKEND
const (
	BackendFile  = "file"
	BackendS3    = "s3"
	BackendMinio = "minio"
)

// NewArtifactStore builds the store selected by the configuration
func NewArtifactStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ArtifactStore, error) {
	switch cfg.ArtifactBackend {
	case BackendFile, "":
		logger.Info("using local artifact store", zap.String("root", cfg.ArtifactRoot))
		return NewLocalStore(cfg.ArtifactRoot)
	case BackendS3:
		logger.Info("using S3 artifact store", zap.String("bucket", cfg.ArtifactBucket), zap.String("region", cfg.AWSRegion))
		return NewS3Store(ctx, cfg.ArtifactBucket, cfg.AWSRegion)
	case BackendMinio:
		logger.Info("using MinIO artifact store", zap.String("endpoint", cfg.MinioEndpoint), zap.String("bucket", cfg.ArtifactBucket))
		return NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.ArtifactBucket, cfg.MinioSecure)
	default:
		return nil, apperr.Invalid("unknown artifact backend %q", cfg.ArtifactBackend)
	}
}

// CleanPath normalises an artifact path and rejects escapes from the store root
func CleanPath(p string) (string, error) {
	p = strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "/")
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", apperr.Invalid("artifact path %q must not contain '..'", p)
		}
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

// objectKey joins a key prefix and an artifact path
func objectKey(prefix, p string) string {
	if prefix == "" {
		return p
	}
	return strings.TrimSuffix(prefix, "/") + "/" + p
}

// dirPrefix returns the listing prefix of a directory key
func dirPrefix(key string) string {
	if key == "" {
		return ""
	}
	return strings.TrimSuffix(key, "/") + "/"
}

func wrapBackend(err error, op, p string) error {
	return apperr.External(err, "failed to %s artifact %s", op, p)
}
