// Package audiostore persists dictation audio on S3-compatible object
// storage under a per-user, per-day key layout.
package audiostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/eduardocaminha/radreport/pkg/logging"
	"github.com/eduardocaminha/radreport/pkg/utils"
)

const (
	defaultBucket = "audio-laudos"
	defaultRegion = "us-east-1"
	contentType   = "audio/webm"
)

// Client is the subset of the S3 API the store uses.
type Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Store struct {
	client Client
	bucket string
	now    func() time.Time
}

func New(client Client, bucket string) *Store {
	if strings.TrimSpace(bucket) == "" {
		bucket = defaultBucket
	}
	return &Store{client: client, bucket: bucket, now: time.Now}
}

// NewFromEnv builds a store against the endpoint named by AUDIO_S3_ENDPOINT,
// using the same credential resolution as the AWS-backed generation client.
// Path-style addressing is forced so MinIO-style endpoints work unchanged.
func NewFromEnv(ctx context.Context) (*Store, error) {
	cfg, err := loadAWSConfig(ctx)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	endpoint := strings.TrimSpace(os.Getenv("AUDIO_S3_ENDPOINT"))
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})
	return New(client, os.Getenv("AUDIO_S3_BUCKET")), nil
}

func loadAWSConfig(ctx context.Context) (aws.Config, error) {
	region := strings.TrimSpace(os.Getenv("AWS_REGION"))
	if region == "" {
		region = defaultRegion
	}

	accessKeyID := strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	secretAccessKey := strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if accessKeyID != "" && secretAccessKey != "" {
		sessionToken := strings.TrimSpace(os.Getenv("AWS_SESSION_TOKEN"))
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, utils.WrapIfNotNil(err)
	}
	return cfg, nil
}

// ObjectKey builds the canonical upload path for one recording session.
func ObjectKey(userID string, sessionID string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s.webm", userID, at.Format("2006-01-02"), sessionID)
}

// EnsureBucket creates the bucket if it does not exist yet. Calling it on an
// already provisioned bucket is a no-op, so it can run unconditionally at
// startup.
func (s *Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}

	var notFound *s3types.NotFound
	if !errors.As(err, &notFound) {
		return utils.WrapIfNotNil(err, "head bucket")
	}

	logging.NewLogger(ctx).Infof("creating audio bucket %q", s.bucket)
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	var owned *s3types.BucketAlreadyOwnedByYou
	var exists *s3types.BucketAlreadyExists
	if errors.As(err, &owned) || errors.As(err, &exists) {
		return nil
	}
	return utils.WrapIfNotNil(err, "create bucket")
}

// Upload stores one audio blob and returns its object key.
func (s *Store) Upload(ctx context.Context, userID string, sessionID string, body io.Reader) (string, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		return "", errors.New("userID and sessionID are required")
	}

	key := ObjectKey(userID, sessionID, s.now())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", utils.WrapIfNotNil(err, "put object")
	}
	return key, nil
}
