package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config configures the S3 object store.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for S3-compatible storage
	AccessKeyID     string // optional; default credential chain otherwise
	SecretAccessKey string
}

// s3API is the subset of *s3.Client the store calls directly.
type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Store keeps objects in one private bucket, encrypted with S3-managed keys.
type S3Store struct {
	bucket   string
	client   s3API
	uploader uploader
}

// NewS3Store loads AWS configuration from the environment (AWS_REGION,
// AWS_PROFILE, AWS_ACCESS_KEY_ID etc.) unless explicit keys are given.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	var opts []func(*awsConfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsConfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return &S3Store{bucket: cfg.Bucket, client: client, uploader: manager.NewUploader(client)}, nil
}

func (s *S3Store) Head(ctx context.Context, key string) (ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return ObjectInfo{}, ErrNotFound
		}
		return ObjectInfo{}, fmt.Errorf("head %s: %w", key, err)
	}
	return ObjectInfo{
		Key:          key,
		ETag:         trimETag(aws.ToString(out.ETag)),
		ContentMD5:   out.Metadata[MetaContentMD5],
		Fingerprint:  out.Metadata[MetaFingerprint],
		CacheControl: aws.ToString(out.CacheControl),
		ContentType:  aws.ToString(out.ContentType),
		Size:         aws.ToInt64(out.ContentLength),
	}, nil
}

func (s *S3Store) Put(ctx context.Context, in PutInput) (ObjectInfo, error) {
	params := &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(in.Key),
		Body:                 in.Body,
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
		Metadata: map[string]string{
			MetaFingerprint: in.Fingerprint,
			MetaContentMD5:  in.ContentMD5,
		},
	}
	if in.CacheControl != "" {
		params.CacheControl = aws.String(in.CacheControl)
	}
	if in.ContentType != "" {
		params.ContentType = aws.String(in.ContentType)
	}
	out, err := s.uploader.Upload(ctx, params)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("s3 upload %s: %w", in.Key, err)
	}
	return ObjectInfo{
		Key:          in.Key,
		ETag:         trimETag(aws.ToString(out.ETag)),
		ContentMD5:   in.ContentMD5,
		Fingerprint:  in.Fingerprint,
		CacheControl: in.CacheControl,
		ContentType:  in.ContentType,
		Size:         in.Size,
	}, nil
}

// List pages through every key under prefix. Metadata is not part of a
// listing, so only Key, ETag and Size are set.
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket), Prefix: aws.String(prefix)}
	for {
		page, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, ObjectInfo{
				Key:  aws.ToString(obj.Key),
				ETag: trimETag(aws.ToString(obj.ETag)),
				Size: aws.ToInt64(obj.Size),
			})
		}
		if !aws.ToBool(page.IsTruncated) {
			return out, nil
		}
		input.ContinuationToken = page.NextContinuationToken
	}
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func trimETag(etag string) string {
	return strings.Trim(etag, "\"")
}
