package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/store"
)

// DocumentStorageConfig configures the S3-compatible endpoint a
// DocumentStorage talks to, mirroring the Hetzner/MinIO connection
// parameters the teacher's upload helpers took per-call.
type DocumentStorageConfig struct {
	Endpoint  string // empty uses the AWS default resolver
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	PathStyle bool // required by MinIO-compatible endpoints
}

// S3DocumentStorage implements engine.DocumentStorage by streaming document
// bytes directly to/from an S3-compatible bucket, grounded on
// s3aws.go's Hetzner/MinIO upload and GetObject helpers — generalized from
// their per-call local-file arguments to an io.Reader/io.ReadCloser
// contract, since uploaded documents arrive as HTTP multipart streams
// rather than files already on disk.
type S3DocumentStorage struct {
	client S3Client
	bucket string
}

// NewS3DocumentStorage builds a client against cfg's endpoint, following
// the same config.LoadDefaultConfig + custom endpoint resolver pattern as
// HetznerUploadFile/MinioGetObject.
func NewS3DocumentStorage(ctx context.Context, cfg DocumentStorageConfig) (*S3DocumentStorage, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: cfg.Endpoint, SigningRegion: region, HostnameImmutable: true}, nil
			})))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load s3 configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
	})
	return &S3DocumentStorage{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads data under a freshly generated object key and returns that
// key as the storage handle persisted on the Document row. Documents are
// bounded at 50MB by the HTTP layer's FILE_TOO_LARGE check, so buffering
// the body for a single PutObject call (rather than the teacher's
// manager.Uploader multipart path, built for much larger sync jobs) keeps
// this adapter simple and directly mockable via S3Client.
func (s *S3DocumentStorage) Put(ctx context.Context, data io.Reader, meta store.DocumentMetadata) (string, error) {
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read document %s: %w", meta.Filename, err)
	}

	key := uuid.NewString()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(meta.ContentType),
		Metadata:    map[string]string{"filename": meta.Filename},
	})
	if err != nil {
		return "", fmt.Errorf("upload document %s: %w", meta.Filename, err)
	}
	return key, nil
}

// Open retrieves the object stored under storageHandle. The caller owns
// closing the returned stream.
func (s *S3DocumentStorage) Open(ctx context.Context, storageHandle string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storageHandle),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("document %s not found in bucket %s", storageHandle, s.bucket)
		}
		return nil, fmt.Errorf("open document %s: %w", storageHandle, err)
	}
	return result.Body, nil
}
