package snippet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/CZERTAINLY/jqplay/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectAPI is the part of *s3.Client the S3 backend uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 keeps every snippet as a JSON object named <prefix><slug>.json.
type S3 struct {
	api    ObjectAPI
	bucket string
	prefix string
}

func NewS3(api ObjectAPI, bucket, prefix string) *S3 {
	return &S3{api: api, bucket: bucket, prefix: prefix}
}

// OpenS3 builds a client from the default AWS credential chain. A custom
// endpoint switches to path style addressing for minio and friends.
func OpenS3(ctx context.Context, cfg model.S3) (*S3, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: loading aws config: %w", model.ErrStorage, err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3(client, cfg.Bucket, cfg.Prefix), nil
}

func (s *S3) key(slug string) string {
	return s.prefix + slug + ".json"
}

// Upsert writes rec unless the slug is already stored. Equal slugs mean equal
// content, so the existing object only differs in its created_at.
func (s *S3) Upsert(ctx context.Context, rec model.SnippetRecord) error {
	_, err := s.Lookup(ctx, rec.Slug)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, model.ErrNotFound):
		return err
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding snippet: %w", err)
	}
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(rec.Slug)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("%w: putting %s: %w", model.ErrStorage, s.key(rec.Slug), err)
	}
	return nil
}

func (s *S3) Lookup(ctx context.Context, slug string) (model.SnippetRecord, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(slug)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return model.SnippetRecord{}, fmt.Errorf("%w: %s", model.ErrNotFound, slug)
		}
		return model.SnippetRecord{}, fmt.Errorf("%w: getting %s: %w", model.ErrStorage, s.key(slug), err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return model.SnippetRecord{}, fmt.Errorf("%w: reading %s: %w", model.ErrStorage, s.key(slug), err)
	}
	var rec model.SnippetRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return model.SnippetRecord{}, fmt.Errorf("%w: decoding %s: %w", model.ErrStorage, s.key(slug), err)
	}
	return rec, nil
}

func (s *S3) Close() error {
	return nil
}
