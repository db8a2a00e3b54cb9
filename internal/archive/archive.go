// Package archive stores rendered dumps as CSV objects, on local disk or in S3.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"rt-trace-monitor/internal/config"
	"rt-trace-monitor/internal/models"
	"rt-trace-monitor/internal/trace"
)

const contentType = "text/csv"

// ObjectName is the file name a dump is stored under. Names sort by start time.
func ObjectName(dump models.Dump) string {
	return fmt.Sprintf("%012d-%s.csv", dump.StartedMS, dump.ID)
}

func render(dump models.Dump) ([]byte, error) {
	var buf bytes.Buffer
	if err := trace.WriteDump(&buf, dump.Records); err != nil {
		return nil, fmt.Errorf("render dump: %w", err)
	}
	return buf.Bytes(), nil
}

// Local writes each dump to its own file below Dir.
type Local struct {
	Dir string
}

func (l *Local) Archive(_ context.Context, dump models.Dump) error {
	body, err := render(dump)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	p := filepath.Join(l.Dir, ObjectName(dump))
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// S3 puts each dump as an object under Prefix in Bucket.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3(client *s3.Client, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key for a dump.
func (s *S3) Key(dump models.Dump) string {
	return path.Join(strings.TrimPrefix(s.prefix, "/"), ObjectName(dump))
}

func (s *S3) Archive(ctx context.Context, dump models.Dump) error {
	body, err := render(dump)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.Key(dump)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// NewS3Client loads AWS configuration, honouring a custom endpoint for
// S3-compatible stores.
func NewS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3PathStyle
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
	}), nil
}
