// Package s3 provides a BlobStore backed by Amazon S3 or an S3-compatible
// object store.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/JakeFAU/doccrawler/internal/crawler"
	"github.com/JakeFAU/doccrawler/internal/hash/sha256"
	"github.com/JakeFAU/doccrawler/internal/storage/layout"
)

// PutObjectAPI is the subset of the S3 client the store needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
}

// Config captures the parameters required to reach a bucket.
type Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint points the client at an S3-compatible service.
	Endpoint     string
	UsePathStyle bool
	// Static credentials; when empty the default AWS chain is used.
	AccessKeyID     string
	SecretAccessKey string
	// SpoolDir holds uploads while they are hashed. Empty means os.TempDir.
	SpoolDir string
}

// NewClient builds an S3 client from cfg and the default AWS configuration
// chain.
func NewClient(ctx context.Context, cfg Config) (*awss3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// BlobStore writes artifacts to a configured bucket.
type BlobStore struct {
	api      PutObjectAPI
	bucket   string
	prefix   string
	spoolDir string
	logger   *zap.Logger
}

// New creates an S3-backed blob store.
func New(api PutObjectAPI, cfg Config, logger *zap.Logger) (*BlobStore, error) {
	if api == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobStore{
		api:      api,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		spoolDir: cfg.SpoolDir,
		logger:   logger,
	}, nil
}

// Close is a no-op; the S3 client holds no resources that need releasing.
func (s *BlobStore) Close() error {
	return nil
}

// SaveBytes uploads content under its content-addressed key.
func (s *BlobStore) SaveBytes(ctx context.Context, content []byte, sourceURL string, typ crawler.CanonicalType) (crawler.Artifact, error) {
	digest := sha256.Sum(content)
	key := layout.Join(s.prefix, layout.Key(sourceURL, digest, typ))
	return s.put(ctx, bytes.NewReader(content), int64(len(content)), key, digest, typ)
}

// SaveStream spools r to a local file while hashing it, then uploads the
// file with a single PutObject. S3 publishes an object only once the upload
// completes, so partial content is never visible at the final key.
func (s *BlobStore) SaveStream(ctx context.Context, r io.Reader, sourceURL string, typ crawler.CanonicalType, _ int64) (crawler.Artifact, error) {
	spool, err := os.CreateTemp(s.spoolDir, "doccrawler-s3-*")
	if err != nil {
		return crawler.Artifact{}, fmt.Errorf("%w: create spool file: %v", crawler.ErrStorageWrite, err)
	}
	defer func() {
		_ = spool.Close()
		if rmErr := os.Remove(spool.Name()); rmErr != nil {
			s.logger.Warn("s3_spool_remove_failed", zap.String("path", spool.Name()), zap.Error(rmErr))
		}
	}()

	key, n, digest, err := s.keyFor(r, spool, sourceURL, typ)
	if err != nil {
		return crawler.Artifact{}, err
	}
	if err := ctx.Err(); err != nil {
		return crawler.Artifact{}, fmt.Errorf("s3 save %s: %w", sourceURL, err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return crawler.Artifact{}, fmt.Errorf("%w: rewind spool file: %v", crawler.ErrStorageWrite, err)
	}
	return s.put(ctx, spool, n, key, digest, typ)
}

func (s *BlobStore) keyFor(r io.Reader, w io.Writer, sourceURL string, typ crawler.CanonicalType) (string, int64, string, error) {
	n, digest, err := layout.Copy(w, r)
	if err != nil {
		return "", 0, "", fmt.Errorf("s3 save %s: %w", sourceURL, err)
	}
	return layout.Join(s.prefix, layout.Key(sourceURL, digest, typ)), n, digest, nil
}

func (s *BlobStore) put(ctx context.Context, body io.Reader, size int64, key, digest string, typ crawler.CanonicalType) (crawler.Artifact, error) {
	_, err := s.api.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(crawler.MIMEType(typ)),
	})
	if err != nil {
		return crawler.Artifact{}, fmt.Errorf("%w: put s3://%s/%s: %v", crawler.ErrStorageWrite, s.bucket, key, err)
	}
	return crawler.Artifact{
		Locator: fmt.Sprintf("s3://%s/%s", s.bucket, key),
		SHA256:  digest,
		Size:    size,
	}, nil
}
