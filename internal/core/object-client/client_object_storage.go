package objectclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	cfg "github.com/markdave123-py/regkb/internal/config"
	"github.com/markdave123-py/regkb/internal/core"
	perr "github.com/markdave123-py/regkb/internal/platform/errors"
	"github.com/markdave123-py/regkb/internal/platform/logger"
)

// maxObjectBytes bounds GetFile reads; source PDFs above this are refused
const maxObjectBytes = 100 << 20

var _ core.ObjectClient = (*S3Client)(nil)

type S3Client struct {
	client *s3.Client
	region string
}

func NewS3Client(ctx context.Context, cfg *cfg.Config) (*S3Client, error) {
	if cfg.AwsAccessKey == "" || cfg.AwsSecretKey == "" {
		return nil, fmt.Errorf("AWS credentials not set")
	}
	if cfg.AwsRegion == "" {
		return nil, fmt.Errorf("AWS_REGION not set")
	}

	awsCfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(cfg.AwsRegion),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AwsAccessKey, cfg.AwsSecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	logger.Named("s3").Info().Str("region", cfg.AwsRegion).Str("bucket", cfg.BucketName).Msg("object storage configured")
	return newS3Client(awsCfg), nil
}

// newS3Client builds a client from a resolved aws.Config; optFns let tests point it at a fake endpoint
func newS3Client(awsCfg aws.Config, optFns ...func(*s3.Options)) *S3Client {
	return &S3Client{
		client: s3.NewFromConfig(awsCfg, optFns...),
		region: awsCfg.Region,
	}
}

// UploadFile uploads a file to S3 and returns its virtual-hosted URL.
func (c *S3Client) UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	uploader := manager.NewUploader(c.client)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	ctxUpload, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if _, err := uploader.Upload(ctxUpload, input); err != nil {
		return "", perr.Wrap(err, perr.ErrorCodeUnavailable, "s3 upload failed")
	}

	return ObjectURL(bucket, c.region, key), nil
}

func (c *S3Client) DeleteFile(ctx context.Context, bucket, key string) error {
	ctxDel, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := c.client.DeleteObject(ctxDel, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "s3 delete failed")
	}
	return nil
}

// GetFile reads a whole object. A missing key is a NotFound error
func (c *S3Client) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	rc, err := c.GetObjectReader(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, maxObjectBytes+1))
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "read s3 object")
	}
	if len(body) > maxObjectBytes {
		return nil, perr.Validationf("object s3://%s/%s exceeds %d bytes", bucket, key, maxObjectBytes)
	}
	return body, nil
}

// GetObjectReader streams an object; the caller closes the reader
func (c *S3Client) GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, perr.NotFoundf("object s3://%s/%s not found", bucket, key)
		}
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "s3 get failed")
	}
	return resp.Body, nil
}

// ObjectURL is the virtual-hosted URL of an object
func ObjectURL(bucket, region, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}
