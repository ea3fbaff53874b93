package keystore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds configuration for S3 storage
type S3Config struct {
	BucketHost      string
	BucketPort      int
	BucketName      string
	Prefix          string
	UseSSL          bool
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store keeps key files as objects in an S3-compatible bucket.
// Directories are implicit in object keys.
type S3Store struct {
	client     *s3.Client
	bucketName string
	prefix     string
}

// NewS3Store creates a new S3 storage client
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s:%d", scheme, cfg.BucketHost, cfg.BucketPort)

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true // Required for MinIO and most S3-compatible stores
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &S3Store{
		client:     client,
		bucketName: cfg.BucketName,
		prefix:     strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// objectKey maps a store path to an object key under the configured prefix
func (s *S3Store) objectKey(p string) string {
	p = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(p, "\\", "/")), "/")
	if s.prefix == "" {
		return p
	}
	return s.prefix + "/" + p
}

func (s *S3Store) ReadText(ctx context.Context, p string) (string, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectKey(p)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return "", &ErrNotFound{Path: p}
		}
		return "", fmt.Errorf("failed to get object: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read object: %w", err)
	}
	return string(data), nil
}

func (s *S3Store) WriteText(ctx context.Context, p, content string) error {
	return s.put(ctx, p, []byte(content), "application/json")
}

func (s *S3Store) WriteBytes(ctx context.Context, p string, data []byte) error {
	return s.put(ctx, p, data, "application/octet-stream")
}

// WritePrivate stores private material. Access control is left to the bucket policy.
func (s *S3Store) WritePrivate(ctx context.Context, p string, data []byte) error {
	return s.put(ctx, p, data, "application/octet-stream")
}

func (s *S3Store) put(ctx context.Context, p string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(s.objectKey(p)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// PathExists is true for an object with that key or any object below it.
func (s *S3Store) PathExists(ctx context.Context, p string) (bool, error) {
	key := s.objectKey(p)
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucketName),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("failed to list objects: %w", err)
	}
	return aws.ToInt32(out.KeyCount) > 0, nil
}

// CreateDirectory is a no-op; prefixes come into existence with their first object.
func (s *S3Store) CreateDirectory(ctx context.Context, p string) error {
	return nil
}

func (s *S3Store) Join(elem ...string) string {
	return path.Join(elem...)
}

// Ping checks if the storage backend is available
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucketName),
	})
	if err != nil {
		return fmt.Errorf("failed to ping bucket: %w", err)
	}
	return nil
}
