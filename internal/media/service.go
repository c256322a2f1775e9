// Package media stores user avatars, file banners and workspace logos in
// S3-compatible object storage.
package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"inkwell/internal/util"
)

const (
	BucketAvatars = "avatars"
	BucketBanners = "file-banners"
	BucketLogos   = "workspace-logos"
)

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// PublicURL is the externally reachable base for stored objects,
	// e.g. "https://media.inkwell.dev".
	PublicURL string
}

type Service struct {
	client    *minio.Client
	publicURL string
}

func NewService(config Config) (*Service, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &Service{
		client:    client,
		publicURL: strings.TrimRight(config.PublicURL, "/"),
	}, nil
}

// EnsureBuckets creates the media buckets if they do not exist yet. Called
// once at startup.
func (s *Service) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{BucketAvatars, BucketBanners, BucketLogos} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if exists {
			continue
		}
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// Upload stores one object and returns its public URL. The stored name is
// randomized; the original filename only contributes its extension.
func (s *Service) Upload(ctx context.Context, bucket, filename, contentType string, body io.Reader, size int64) (string, error) {
	object := util.NewID() + strings.ToLower(path.Ext(filename))
	_, err := s.client.PutObject(ctx, bucket, object, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s/%s: %w", bucket, object, err)
	}
	return s.URL(bucket, object), nil
}

// UploadAvatar stores a user avatar.
func (s *Service) UploadAvatar(ctx context.Context, filename, contentType string, body io.Reader, size int64) (string, error) {
	return s.Upload(ctx, BucketAvatars, filename, contentType, body, size)
}

// UploadBanner stores a file banner image.
func (s *Service) UploadBanner(ctx context.Context, filename, contentType string, body io.Reader, size int64) (string, error) {
	return s.Upload(ctx, BucketBanners, filename, contentType, body, size)
}

// UploadLogo stores a workspace logo.
func (s *Service) UploadLogo(ctx context.Context, filename, contentType string, body io.Reader, size int64) (string, error) {
	return s.Upload(ctx, BucketLogos, filename, contentType, body, size)
}

// Remove deletes a previously stored object given its public URL. Unknown
// URLs are ignored so callers can pass whatever the database held.
func (s *Service) Remove(ctx context.Context, publicURL string) error {
	trimmed := strings.TrimPrefix(publicURL, s.publicURL+"/")
	if trimmed == publicURL {
		return nil
	}
	bucket, object, ok := strings.Cut(trimmed, "/")
	if !ok {
		return nil
	}
	if err := s.client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s/%s: %w", bucket, object, err)
	}
	return nil
}

// URL returns the public URL for a stored object.
func (s *Service) URL(bucket, object string) string {
	return s.publicURL + "/" + bucket + "/" + object
}
