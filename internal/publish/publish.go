// Package publish copies finished series to object storage.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ezclips/ezclips-server/internal/logging"
	"github.com/ezclips/ezclips-server/internal/series"
)

// PutObjectAPI is the part of the S3 client the publisher uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads the clips, manifest and cut list of a series to
// s3://<bucket>/<prefix>/<seriesId>/.
type S3Publisher struct {
	client PutObjectAPI
	bucket string
	prefix string
	logger *slog.Logger
}

func NewS3Publisher(client PutObjectAPI, bucket, prefix string, logger *slog.Logger) *S3Publisher {
	return &S3Publisher{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logging.WithComponent(logger, "publish"),
	}
}

// NewS3Client loads the default AWS configuration chain (environment, shared
// files, instance role). An empty region keeps whatever the chain resolves.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Key is the object key of one series file.
func (p *S3Publisher) Key(seriesID, filename string) string {
	if p.prefix == "" {
		return path.Join(seriesID, filename)
	}
	return path.Join(p.prefix, seriesID, filename)
}

// PublishSeries uploads every clip, then the manifest and cut list. It stops
// at the first failed upload.
func (p *S3Publisher) PublishSeries(ctx context.Context, s *series.Series) error {
	files := append(s.ClipFiles(),
		filepath.Join(s.Dir, series.ManifestFile),
		filepath.Join(s.Dir, series.CutListFile),
	)
	for _, f := range files {
		if err := p.put(ctx, s.ID, f); err != nil {
			return err
		}
	}
	p.logger.Info("series published",
		"series_id", s.ID,
		"objects", len(files),
		"location", fmt.Sprintf("s3://%s/%s", p.bucket, p.Key(s.ID, "")),
	)
	return nil
}

func (p *S3Publisher) put(ctx context.Context, seriesID, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(file), err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	key := p.Key(seriesID, filepath.Base(file))
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(fi.Size()),
		ContentType:   aws.String(contentType(file)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	p.logger.Debug("uploaded series file", "key", key, "size", fi.Size())
	return nil
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".mp4":
		return "video/mp4"
	case ".json":
		return "application/json"
	case ".edl":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// NoopPublisher is used when no bucket is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishSeries(context.Context, *series.Series) error { return nil }
