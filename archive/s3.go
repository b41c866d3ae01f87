package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/use-agent/propintel/config"
)

// PutObjectAPI is the slice of the S3 client the uploader uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies finished output files to a bucket under
// <prefix>/<run id>/<file name>.
type Uploader struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// New connects to S3. A non-empty endpoint switches to static test
// credentials and path-style addressing for LocalStack.
func New(ctx context.Context, cfg config.S3Config) (*Uploader, error) {
	s3Config, err := awsCfg.LoadDefaultConfig(ctx, awsCfg.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		s3Config.BaseEndpoint = &cfg.Endpoint
		s3Config.Credentials = crd.NewStaticCredentialsProvider("test", "test", "")
		slog.Warn("s3 archive using custom endpoint", "endpoint", cfg.Endpoint)
		client = s3.NewFromConfig(s3Config, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(s3Config)
	}
	return NewUploader(client, cfg.Bucket, cfg.KeyPrefix), nil
}

// NewUploader wraps an existing client.
func NewUploader(client PutObjectAPI, bucket, prefix string) *Uploader {
	return &Uploader{client: client, bucket: bucket, prefix: prefix}
}

// Key is the object key for a file of a run.
func (u *Uploader) Key(runID, file string) string {
	return path.Join(u.prefix, runID, filepath.Base(file))
}

// Upload puts each file and returns the keys written. Missing files are
// skipped; the first failed upload stops the batch.
func (u *Uploader) Upload(ctx context.Context, runID string, files ...string) ([]string, error) {
	var keys []string
	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			if os.IsNotExist(err) {
				slog.Debug("archive: skipping missing file", "file", file)
				continue
			}
			return keys, fmt.Errorf("archive: open %s: %w", file, err)
		}
		key := u.Key(runID, file)
		_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      &u.bucket,
			Key:         &key,
			Body:        f,
			ContentType: contentType(file),
		})
		f.Close()
		if err != nil {
			return keys, fmt.Errorf("archive: put %s: %w", key, err)
		}
		slog.Info("output archived", "bucket", u.bucket, "key", key)
		keys = append(keys, key)
	}
	return keys, nil
}

func contentType(file string) *string {
	ct := "application/octet-stream"
	switch filepath.Ext(file) {
	case ".jsonl":
		ct = "application/x-ndjson"
	case ".csv":
		ct = "text/csv"
	}
	return &ct
}
