package storage

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
)

// S3API is the subset of the S3 client used by S3Store
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store keeps artifacts in an S3 bucket
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Store creates a store using the default AWS credential chain
func NewS3Store(ctx context.Context, bucket, region string) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, apperr.External(err, "failed to load AWS configuration")
	}

	return NewS3StoreWithClient(s3.NewFromConfig(cfg), bucket, ""), nil
}

// NewS3StoreWithClient wraps an existing client; keys are placed under prefix
func NewS3StoreWithClient(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Put uploads the content at path
func (s *S3Store) Put(ctx context.Context, p string, r io.Reader, size int64) error {
	cleaned, err := CleanPath(p)
	if err != nil {
		return err
	}
	if cleaned == "" {
		return apperr.Invalid("artifact path must not be empty")
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey(s.prefix, cleaned)),
		Body:        r,
		ContentType: aws.String("application/octet-stream"),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return wrapBackend(err, "upload", cleaned)
	}
	return nil
}

// Get downloads the content at path
func (s *S3Store) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	cleaned, err := CleanPath(p)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(s.prefix, cleaned)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, apperr.NotFound("artifact", cleaned)
		}
		return nil, wrapBackend(err, "download", cleaned)
	}
	return out.Body, nil
}

// List returns the direct children of dir using a delimiter listing
func (s *S3Store) List(ctx context.Context, dir string) ([]models.ArtifactInfo, error) {
	cleaned, err := CleanPath(dir)
	if err != nil {
		return nil, err
	}

	prefix := dirPrefix(objectKey(s.prefix, cleaned))
	var out []models.ArtifactInfo
	var token *string
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, wrapBackend(err, "list", cleaned)
		}

		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			out = append(out, models.ArtifactInfo{Path: objectKey(cleaned, name), IsDir: true})
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue
			}
			out = append(out, models.ArtifactInfo{Path: objectKey(cleaned, name), FileSize: aws.ToInt64(obj.Size)})
		}

		if !aws.ToBool(page.IsTruncated) {
			break
		}
		token = page.NextContinuationToken
	}

	return out, nil
}
