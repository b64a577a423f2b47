package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// minioAPI is the subset of minio.Core used by MinioStore.
type minioAPI interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	NewMultipartUpload(ctx context.Context, bucket, key string, opts minio.PutObjectOptions) (string, error)
	PutObjectPart(ctx context.Context, bucket, key, uploadID string, partID int, r io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error)
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucket, key string, expiry time.Duration, params url.Values) (*url.URL, error)
}

// minioCore routes PutObject to the high-level client; Core's own PutObject
// takes precomputed checksums.
type minioCore struct {
	*minio.Core
}

func (c minioCore) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return c.Core.Client.PutObject(ctx, bucket, key, r, size, opts)
}

// MinioStore implements Store with minio-go's low-level Core API.
type MinioStore struct {
	api    minioAPI
	bucket string
}

// NewMinioStore connects to the endpoint given as a URL, e.g.
// "http://127.0.0.1:9000/".
func NewMinioStore(c S3Config) (*MinioStore, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid minio endpoint %q", c.Endpoint)
	}
	core, err := minio.NewCore(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure: strings.EqualFold(u.Scheme, "https"),
		Region: c.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioStore{api: minioCore{core}, bucket: c.Bucket}, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (string, error) {
	info, err := s.api.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", classifyMinio("put", key, err)
	}
	return info.ETag, nil
}

func (s *MinioStore) InitiateMultipart(ctx context.Context, key, contentType string) (string, error) {
	id, err := s.api.NewMultipartUpload(ctx, s.bucket, key, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", classifyMinio("create multipart", key, err)
	}
	return id, nil
}

func (s *MinioStore) UploadPart(ctx context.Context, key, uploadID string, index int, body io.ReadSeeker, size int64) (string, error) {
	part, err := s.api.PutObjectPart(ctx, s.bucket, key, uploadID, index+1, body, size, minio.PutObjectPartOptions{})
	if err != nil {
		return "", classifyMinio("upload part", key, err)
	}
	return part.ETag, nil
}

func (s *MinioStore) CompleteMultipart(ctx context.Context, key, uploadID string, tokens []string) (string, error) {
	parts := make([]minio.CompletePart, len(tokens))
	for i, t := range tokens {
		parts[i] = minio.CompletePart{PartNumber: i + 1, ETag: t}
	}
	info, err := s.api.CompleteMultipartUpload(ctx, s.bucket, key, uploadID, parts, minio.PutObjectOptions{})
	if err != nil {
		return "", classifyMinio("complete multipart", key, err)
	}
	return info.ETag, nil
}

func (s *MinioStore) AbortMultipart(ctx context.Context, key, uploadID string) error {
	return classifyMinio("abort multipart", key, s.api.AbortMultipartUpload(ctx, s.bucket, key, uploadID))
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	return classifyMinio("delete", key, s.api.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}))
}

func (s *MinioStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.api.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
	if err != nil {
		return "", classifyMinio("presign get", key, err)
	}
	return u.String(), nil
}

func classifyMinio(op, key string, err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	return classify("minio "+op, key, resp.StatusCode, resp.Code, err)
}
