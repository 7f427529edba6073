package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pdm-pipeline/config"
	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
)

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0/abc/artifacts/model.json", want: "0/abc/artifacts/model.json"},
		{in: "/0/abc//artifacts/", want: "0/abc/artifacts"},
		{in: "a\\b", want: "a/b"},
		{in: "", want: ""},
		{in: "a/../../etc/passwd", wantErr: true},
	}

	for _, tt := range tests {
		got, err := CleanPath(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, apperr.ErrInvalid, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func putString(t *testing.T, s ArtifactStore, p, content string) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), p, strings.NewReader(content), int64(len(content))))
}

func readAll(t *testing.T, s ArtifactStore, p string) string {
	t.Helper()
	rc, err := s.Get(context.Background(), p)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	putString(t, s, "1/run/artifacts/random_forest_model/model.json", `{"trees":[]}`)
	putString(t, s, "1/run/artifacts/server_log.txt", "listening")
	putString(t, s, "1/run/artifacts/server_log.txt", "listening again")

	assert.Equal(t, "listening again", readAll(t, s, "1/run/artifacts/server_log.txt"))

	items, err := s.List(ctx, "1/run/artifacts")
	require.NoError(t, err)
	assert.Equal(t, []models.ArtifactInfo{
		{Path: "1/run/artifacts/random_forest_model", IsDir: true},
		{Path: "1/run/artifacts/server_log.txt", FileSize: int64(len("listening again"))},
	}, items)

	missing, err := s.List(ctx, "nothing/here")
	require.NoError(t, err)
	assert.Empty(t, missing)

	_, err = s.Get(ctx, "1/run/artifacts/nope.txt")
	assert.True(t, apperr.IsNotFound(err))
	_, err = s.Get(ctx, "1/run/artifacts/random_forest_model")
	assert.True(t, apperr.IsNotFound(err))

	assert.ErrorIs(t, s.Put(ctx, "../escape", strings.NewReader("x"), 1), apperr.ErrInvalid)
	assert.ErrorIs(t, s.Put(ctx, "", strings.NewReader("x"), 1), apperr.ErrInvalid)
}

func TestNewArtifactStoreSelectsBackend(t *testing.T) {
	logger := zaptest.NewLogger(t)

	s, err := NewArtifactStore(context.Background(), &config.Config{ArtifactBackend: BackendFile, ArtifactRoot: t.TempDir()}, logger)
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)

	_, err = NewArtifactStore(context.Background(), &config.Config{ArtifactBackend: "ftp"}, logger)
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

// fakeS3 is an in-memory stand-in for the S3 API
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	dirs := map[string]bool{}

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			dir := prefix + rest[:i+1]
			if !dirs[dir] {
				dirs[dir] = true
				out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(dir)})
			}
			continue
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := NewS3StoreWithClient(fake, "mlflow", "/artifacts/")

	putString(t, s, "0/r1/artifacts/random_forest_model/model.json", "{}")
	putString(t, s, "0/r1/artifacts/server_log.txt", "ok")

	assert.Contains(t, fake.objects, "artifacts/0/r1/artifacts/server_log.txt")
	assert.Equal(t, "ok", readAll(t, s, "0/r1/artifacts/server_log.txt"))

	items, err := s.List(ctx, "0/r1/artifacts")
	require.NoError(t, err)
	assert.Equal(t, []models.ArtifactInfo{
		{Path: "0/r1/artifacts/random_forest_model", IsDir: true},
		{Path: "0/r1/artifacts/server_log.txt", FileSize: 2},
	}, items)

	_, err = s.Get(ctx, "0/r1/artifacts/missing")
	assert.True(t, apperr.IsNotFound(err))
}
