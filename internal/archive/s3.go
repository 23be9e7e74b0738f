package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader stores a local file under a key.
type Uploader interface {
	Upload(ctx context.Context, key, localPath, contentType string) error
}

// S3Uploader uploads files with PutObject.
type S3Uploader struct {
	client *s3.Client
	bucket string
}

// NewS3Uploader creates an uploader for cfg.
func NewS3Uploader(cfg *S3Config) (*S3Uploader, error) {
	if !cfg.IsConfigured() {
		return nil, ErrS3NotConfigured
	}
	return &S3Uploader{client: createS3Client(cfg), bucket: cfg.Bucket}, nil
}

// createS3Client creates an S3 client with static credentials. A custom
// endpoint switches to path-style addressing.
func createS3Client(cfg *S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}
	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.New(s3.Options{}, options...)
}

// Upload puts the file at localPath into the bucket.
func (u *S3Uploader) Upload(ctx context.Context, key, localPath, contentType string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close file after upload", "path", localPath, "error", err)
		}
	}()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat recording: %w", err)
	}

	ctx, cancel := context.WithTimeoutCause(ctx, uploadTimeout, errors.New("s3 upload timeout"))
	defer cancel()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// objectKey returns the S3 key of a recording file.
func objectKey(prefix, filename string) string {
	if prefix == "" {
		prefix = "recordings"
	}
	return path.Join(prefix, filename)
}

// TestS3Connection tests connectivity to an S3 bucket by uploading and
// deleting a test object.
func TestS3Connection(ctx context.Context, cfg *S3Config) error {
	if !cfg.IsConfigured() {
		return ErrS3NotConfigured
	}
	client := createS3Client(cfg)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	testKey := objectKey(cfg.Prefix, fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano()))
	testContent := []byte("audioplane archive connection test")

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(testKey),
		Body:          bytes.NewReader(testContent),
		ContentLength: aws.Int64(int64(len(testContent))),
	})
	if err != nil {
		return fmt.Errorf("upload test file: %w", err)
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(testKey),
	})
	if err != nil {
		slog.Warn("failed to delete test file", "key", testKey, "error", err)
	}
	return nil
}
