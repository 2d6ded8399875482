package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Config holds S3/MinIO configuration
type S3Config struct {
	Endpoint        string // e.g., "http://localhost:9000" for MinIO
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	Prefix          string // key prefix for media objects, e.g. "autopost"
	PublicURL       string // Public URL the platforms fetch media from (e.g., "http://localhost:9000/media")
}

// S3Storage uploads post media where the Graph API can fetch it
type S3Storage struct {
	client    *s3.Client
	bucket    string
	prefix    string
	publicURL string
	now       func() time.Time
}

// NewS3Storage creates a new S3 storage client
func NewS3Storage(cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if cfg.PublicURL == "" {
		return nil, errors.New("s3 public url is required")
	}

	client := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		UsePathStyle: true, // Required for MinIO
	})

	return &S3Storage{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		now:       time.Now,
	}, nil
}

// UploadInput represents input for uploading a file
type UploadInput struct {
	Reader      io.Reader
	ContentType string
	Size        int64
	Filename    string // original inbox filename, kept readable in the key
}

// UploadOutput represents output from uploading a file
type UploadOutput struct {
	Key        string // Object key in S3
	URL        string // Public URL to access the file
	Size       int64
	UploadedAt time.Time
}

// Upload stores a media file and returns its public URL
func (s *S3Storage) Upload(ctx context.Context, in UploadInput) (*UploadOutput, error) {
	key := s.objectKey(in.Filename, in.ContentType)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          in.Reader,
		ContentType:   aws.String(in.ContentType),
		ContentLength: aws.Int64(in.Size),
	})
	if err != nil {
		return nil, fmt.Errorf("uploading to s3: %w", err)
	}

	return &UploadOutput{
		Key:        key,
		URL:        fmt.Sprintf("%s/%s", s.publicURL, key),
		Size:       in.Size,
		UploadedAt: s.now(),
	}, nil
}

// Ping checks that the bucket is reachable
func (s *S3Storage) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("checking s3 bucket %s: %w", s.bucket, err)
	}
	return nil
}

// objectKey builds prefix/2006/01/02/<uuid>-<name><ext>
func (s *S3Storage) objectKey(filename, contentType string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = extensionFor(contentType)
	}
	name := slug(strings.TrimSuffix(path.Base(filename), path.Ext(filename)))

	key := fmt.Sprintf("%s/%s", s.now().UTC().Format("2006/01/02"), uuid.New().String())
	if name != "" {
		key += "-" + name
	}
	key += ext
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	return key
}

// slug keeps ASCII letters, digits and dashes
func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ' || r == '.':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// extensionFor returns file extension based on content type
func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/x-m4v":
		return ".m4v"
	default:
		return ""
	}
}
