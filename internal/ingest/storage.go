package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"error-tracker/internal/config"
)

// PostStore holds raw uploaded event-post bodies. The queue carries only
// the storage path.
type PostStore interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, body []byte) error
	Remove(ctx context.Context, path string) error
}

// NewPostStore picks S3 when a bucket is configured, otherwise a local
// directory store.
func NewPostStore(ctx context.Context, cfg config.Config) (PostStore, error) {
	if cfg.PostS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &s3PostStore{client: client, bucket: cfg.PostS3Bucket}, nil
	}
	return &localPostStore{baseDir: cfg.PostLocalDir}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.PostS3Region),
	}
	if cfg.PostS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.PostS3Endpoint,
					HostnameImmutable: cfg.PostS3PathStyle,
					SigningRegion:     cfg.PostS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PostS3PathStyle
	}), nil
}

type s3PostStore struct {
	client *s3.Client
	bucket string
}

func (s *s3PostStore) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(sanitizeKey(path)),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", path, err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", path, err)
	}
	return body, nil
}

func (s *s3PostStore) Put(ctx context.Context, path string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(sanitizeKey(path)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", path, err)
	}
	return nil
}

func (s *s3PostStore) Remove(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(sanitizeKey(path)),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", path, err)
	}
	return nil
}

type localPostStore struct {
	baseDir string
}

func (l *localPostStore) fullPath(path string) string {
	return filepath.Join(l.baseDir, sanitizeKey(path))
}

func (l *localPostStore) Get(_ context.Context, path string) ([]byte, error) {
	body, err := os.ReadFile(l.fullPath(path))
	if err != nil {
		return nil, fmt.Errorf("read post %s: %w", path, err)
	}
	return body, nil
}

func (l *localPostStore) Put(_ context.Context, path string, body []byte) error {
	full := l.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(full, body, 0o644); err != nil {
		return fmt.Errorf("write post %s: %w", path, err)
	}
	return nil
}

func (l *localPostStore) Remove(_ context.Context, path string) error {
	if err := os.Remove(l.fullPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove post %s: %w", path, err)
	}
	return nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}
