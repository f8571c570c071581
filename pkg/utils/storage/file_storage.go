package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Storage uploads exported content artifacts to S3.
type Storage struct {
	client *s3.Client
	bucket string
	region string
}

func NewStorage(ctx context.Context, bucket, region string) (*Storage, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	// Static credentials when provided, otherwise the default chain.
	if accessKey := os.Getenv("AWS_ACCESS_KEY_ID"); accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				accessKey,
				os.Getenv("AWS_SECRET_ACCESS_KEY"),
				"",
			),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %v", err)
	}

	return &Storage{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		region: region,
	}, nil
}

// UploadContent stores one generated text artifact and returns its public URL.
// Key layout: user_id/generation_public_id/timestamp.txt
func (s *Storage) UploadContent(ctx context.Context, userID uint, publicID, content string) (string, error) {
	key := fmt.Sprintf("%d/%s/%d.txt", userID, publicID, time.Now().Unix())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(content)),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("could not upload to S3: %v", err)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key), nil
}
