// Package objectstore keeps entity payloads as JSON objects in an
// S3-compatible bucket (AWS S3 or MinIO).
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"persistkit/internal/infra/persistence/kv"
	"persistkit/pkg/domain"
	"sort"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var _ kv.Bucket = (*Bucket)(nil)

const contentType = "application/json"

// Bucket implements kv.Bucket on a single S3 bucket. Keys map to object keys directly.
type Bucket struct {
	client *s3.Client
	bucket string
}

// Config holds explicit construction parameters. Unset credentials fall back
// to the default AWS credentials chain.
type Config struct {
	Region          string
	Bucket          string
	Endpoint        string // optional; if set enables custom endpoint (e.g. MinIO)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
	// Prefix namespaces every object key written by the store.
	Prefix string
}

// New creates an S3 bucket adapter from Config.
func New(ctx context.Context, cfg Config) (*Bucket, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Bucket{client: client, bucket: cfg.Bucket}, nil
}

// NewStore opens the bucket and wraps it as a domain.Store.
func NewStore(ctx context.Context, cfg Config, registry *domain.Registry) (*kv.Store, error) {
	b, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return kv.New(b, registry, cfg.Prefix), nil
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.bucket }

// Get implements kv.Bucket.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer func() { _ = out.Body.Close() }()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return data, true, nil
}

// Put implements kv.Bucket. Objects are overwritten in place.
func (b *Bucket) Put(ctx context.Context, key string, value []byte) error {
	ct := contentType
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &b.bucket,
		Key:         &key,
		Body:        bytes.NewReader(value),
		ContentType: &ct,
	})
	return err
}

// Delete implements kv.Bucket.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &b.bucket, Key: &key})
	return err
}

// List returns the object keys under prefix in sorted order.
func (b *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &b.bucket, Prefix: &prefix, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if out.IsTruncated != nil && *out.IsTruncated && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Strings(keys)
	return keys, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
