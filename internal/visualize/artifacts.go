package visualize

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ArtifactStore persists rendered images and returns a reference clients can
// load: a URL or a data URI.
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// ErrNotFound is returned by MemoryStore.Get for unknown keys.
var ErrNotFound = errors.New("artifact not found")

type memoryObject struct {
	contentType string
	data        []byte
}

// MemoryStore keeps artifacts in process and references them as data URIs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

// Put implements ArtifactStore.
func (s *MemoryStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key = normalizeKey(key)
	if key == "" {
		return "", errors.New("key is required")
	}
	cp := append([]byte(nil), data...)

	s.mu.Lock()
	s.objects[key] = memoryObject{contentType: contentType, data: cp}
	s.mu.Unlock()

	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(cp), nil
}

// Get returns a stored artifact and its content type.
func (s *MemoryStore) Get(key string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[normalizeKey(key)]
	if !ok {
		return nil, "", ErrNotFound
	}
	return append([]byte(nil), obj.data...), obj.contentType, nil
}

// Len returns the number of stored artifacts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// MinioConfig configures an S3-compatible artifact bucket.
type MinioConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// URLExpiry bounds presigned URLs. Zero means one hour.
	URLExpiry time.Duration
}

// objectClient is the subset of *minio.Client used by MinioStore.
type objectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, params url.Values) (*url.URL, error)
}

// MinioStore uploads artifacts to S3-compatible storage and returns
// presigned GET URLs.
type MinioStore struct {
	client objectClient
	bucket string
	region string
	expiry time.Duration

	initMu  sync.Mutex
	initted bool
}

// NewMinioStore validates cfg and creates the client. The bucket is created
// lazily on first Put.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("artifact endpoint is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("artifact access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("artifact bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return newMinioStore(client, bucket, region, cfg.URLExpiry), nil
}

func newMinioStore(client objectClient, bucket, region string, expiry time.Duration) *MinioStore {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &MinioStore{client: client, bucket: bucket, region: region, expiry: expiry}
}

// ensureBucket creates the bucket once. Failures are retried on the next
// call.
func (s *MinioStore) ensureBucket(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initted {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return err
		}
	}
	s.initted = true
	return nil
}

// Put implements ArtifactStore.
func (s *MinioStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	key = normalizeKey(key)
	if key == "" {
		return "", errors.New("key is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket: %w", err)
	}
	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func normalizeKey(key string) string {
	return strings.TrimLeft(strings.TrimSpace(key), "/")
}
