package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hianidl/hianidl/internal/utils"
)

// S3Mirror uploads finished library files to an S3 bucket, keyed by path
// relative to the library root.
type S3Mirror struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// ParseS3Target splits "s3://bucket/prefix" into its parts.
func ParseS3Target(target string) (string, string, error) {
	target = strings.TrimPrefix(target, "s3://")
	parts := strings.SplitN(target, "/", 2)
	if len(parts) < 1 || parts[0] == "" {
		return "", "", fmt.Errorf("invalid S3 target format")
	}
	bucket := parts[0]
	prefix := ""
	if len(parts) > 1 {
		prefix = strings.TrimSuffix(parts[1], "/")
	}
	return bucket, prefix, nil
}

func NewS3Mirror(ctx context.Context, target, profile string) (*S3Mirror, error) {
	bucket, prefix, err := ParseS3Target(target)
	if err != nil {
		return nil, err
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRetryMode("adaptive"),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Mirror{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

// Mirror uploads localPath under the mirror's prefix using relKey (the path
// relative to the library root).
func (m *S3Mirror) Mirror(ctx context.Context, localPath, relKey string) error {
	log := utils.GetLogger("sink")
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("error opening file for upload: %v", err)
	}
	defer f.Close()
	key := filepath.ToSlash(relKey)
	if m.prefix != "" {
		key = m.prefix + "/" + key
	}
	_, err = m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("error uploading to s3://%s/%s: %v", m.bucket, key, err)
	}
	log.Debug().Str("op", "mirror").Str("key", key).Msg("Uploaded artifact to S3")
	return nil
}
