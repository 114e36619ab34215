// Package s3 provides an ObjectStore backed by S3 or an S3-compatible service.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"lecture-capture-service/internal/service/storage"
)

// Config holds S3 connection settings.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // custom endpoint for S3-compatible services
	PublicBaseURL   string // CDN or public bucket URL; derived from the endpoint when empty
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Store implements storage.ObjectStore on an S3 bucket.
type Store struct {
	client *awss3.Client
	cfg    Config
}

// New loads AWS configuration and creates an S3-backed store.
// Static credentials are used when both keys are set; otherwise the default chain applies.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	log.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Str("endpoint", cfg.Endpoint).
		Bool("pathStyle", cfg.UsePathStyle).
		Msg("S3 object store initialized")

	return &Store{client: client, cfg: cfg}, nil
}

// Put uploads data to path, overwriting any existing object.
func (s *Store) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3: put %s: %w", path, err)
	}
	return s.PublicURL(path), nil
}

// Get downloads the object at path. Missing objects yield storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3: get %s: %w", path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: read %s: %w", path, err)
	}
	return data, nil
}

// Delete removes the object at path.
func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("s3: delete %s: %w", path, err)
	}
	return nil
}

// PublicURL returns the URL the object at path is served from.
func (s *Store) PublicURL(path string) string {
	escaped := (&url.URL{Path: path}).EscapedPath()
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + escaped
	}
	if s.cfg.Endpoint != "" {
		base := strings.TrimRight(s.cfg.Endpoint, "/")
		if s.cfg.UsePathStyle {
			return base + "/" + s.cfg.Bucket + "/" + escaped
		}
		if u, err := url.Parse(base); err == nil && u.Host != "" {
			return u.Scheme + "://" + s.cfg.Bucket + "." + u.Host + "/" + escaped
		}
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, escaped)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
