package warehouse

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/klauspost/compress/gzip"
	"google.golang.org/api/option"
)

// Stager holds load payloads in object storage for the duration of a job.
type Stager interface {
	// Stage gzips r into an object named after name and returns its gs:// URI.
	Stage(ctx context.Context, name string, r io.Reader) (string, error)
	// Remove deletes an object previously returned by Stage.
	Remove(ctx context.Context, uri string) error
	Close() error
}

// objectWriter opens the upload stream of a staged object.
type objectWriter func(ctx context.Context, bucket, object string) io.WriteCloser

// GCSStager stages payloads in a Cloud Storage bucket.
type GCSStager struct {
	client    *storage.Client
	bucket    string
	prefix    string
	newWriter objectWriter
}

// NewGCSStager creates a stager writing to gs://bucket/prefix/.
func NewGCSStager(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSStager, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	g := &GCSStager{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
	g.newWriter = g.openObject
	return g, nil
}

func (g *GCSStager) openObject(ctx context.Context, bucket, object string) io.WriteCloser {
	writer := g.client.Bucket(bucket).Object(object).NewWriter(ctx)
	writer.ContentType = "application/json"
	return writer
}

// ObjectName returns the staged object name for name.
func (g *GCSStager) ObjectName(name string) string {
	return path.Join(g.prefix, name+".json.gz")
}

func (g *GCSStager) Stage(ctx context.Context, name string, r io.Reader) (string, error) {
	objectName := g.ObjectName(name)
	writer := g.newWriter(ctx, g.bucket, objectName)

	gz := gzip.NewWriter(writer)
	if _, err := io.Copy(gz, r); err != nil {
		_ = gz.Close()
		_ = writer.Close()
		return "", fmt.Errorf("failed to write staged object: %w", err)
	}
	if err := gz.Close(); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to compress staged object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to upload staged object: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", g.bucket, objectName), nil
}

func (g *GCSStager) Remove(ctx context.Context, uri string) error {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return err
	}
	return g.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (g *GCSStager) Close() error {
	return g.client.Close()
}

// ParseGCSURI splits gs://bucket/object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// URI: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed gs:// URI: %q", uri)
	}
	return bucket, object, nil
}
