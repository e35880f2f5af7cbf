package checkpoint

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// defaultRegion — регион, если не задан ни в цели, ни в конфигурации.
const defaultRegion = "us-east-1"

// S3Config — параметры подключения к S3-совместимому хранилищу.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// S3ConfigFromEnv читает S3_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY, S3_REGION, S3_USE_SSL.
func S3ConfigFromEnv() S3Config {
	useSSL := true
	if v := strings.TrimSpace(os.Getenv("S3_USE_SSL")); v != "" {
		useSSL = v == "1" || strings.EqualFold(v, "true")
	}
	endpoint := strings.TrimSpace(os.Getenv("S3_ENDPOINT"))
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	return S3Config{
		Endpoint:  endpoint,
		AccessKey: strings.TrimSpace(os.Getenv("S3_ACCESS_KEY")),
		SecretKey: strings.TrimSpace(os.Getenv("S3_SECRET_KEY")),
		Region:    strings.TrimSpace(os.Getenv("S3_REGION")),
		UseSSL:    useSSL,
	}
}

// S3Store — durable store в S3. Клиент создаётся на каждый регион,
// бакет проверяется (и при необходимости создаётся) один раз.
type S3Store struct {
	cfg S3Config

	mu      sync.Mutex
	clients map[string]*minio.Client
	buckets map[string]bool
}

// NewS3Store проверяет параметры и создаёт S3Store.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	return &S3Store{
		cfg:     cfg,
		clients: make(map[string]*minio.Client),
		buckets: make(map[string]bool),
	}, nil
}

// Put загружает файл в s3://bucket/object.
func (s *S3Store) Put(ctx context.Context, localPath, key, region string) error {
	bucket, object, err := ParseS3Key(key)
	if err != nil {
		return err
	}
	if region == "" {
		region = s.cfg.Region
	}

	client, err := s.client(region)
	if err != nil {
		return err
	}
	if err := s.ensureBucket(ctx, client, bucket, region); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", bucket, err)
	}

	_, err = client.FPutObject(ctx, bucket, object, localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Remove удаляет объект s3://bucket/object.
func (s *S3Store) Remove(ctx context.Context, key, region string) error {
	bucket, object, err := ParseS3Key(key)
	if err != nil {
		return err
	}
	if region == "" {
		region = s.cfg.Region
	}
	client, err := s.client(region)
	if err != nil {
		return err
	}
	if err := client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) client(region string) (*minio.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[region]; ok {
		return c, nil
	}
	c, err := minio.New(s.cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(s.cfg.AccessKey, s.cfg.SecretKey, ""),
		Secure: s.cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	s.clients[region] = c
	return c, nil
}

func (s *S3Store) ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	s.mu.Lock()
	ready := s.buckets[bucket]
	s.mu.Unlock()
	if ready {
		return nil
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.buckets[bucket] = true
	s.mu.Unlock()
	return nil
}

// ParseS3Key разбирает s3://bucket/object.
func ParseS3Key(key string) (bucket, object string, err error) {
	scheme, rest, err := splitKey(key)
	if err != nil {
		return "", "", err
	}
	if scheme != "s3" {
		return "", "", fmt.Errorf("%w: %s is not an s3 url", ErrInvalidKey, key)
	}
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: %s must be s3://bucket/object", ErrInvalidKey, key)
	}
	return bucket, object, nil
}
