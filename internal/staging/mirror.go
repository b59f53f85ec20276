// Package staging mirrors staged trip files from an S3-compatible bucket into
// the local data/<location_id>/ tree read by the batch loader.
package staging

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"transit-etl/internal/etl"
	"transit-etl/internal/metrics"
)

// Object results used as the staged-objects "result" label.
const (
	resultDownloaded = "downloaded"
	resultUnchanged  = "unchanged"
	resultRejected   = "rejected"
)

type Options struct {
	Bucket    string
	Prefix    string // default "data"
	Endpoint  string // empty for AWS; set for GCS interoperability or MinIO
	Region    string
	Anonymous bool // skip credential lookup, for public buckets
}

// NewClient builds an S3 client from opts; credentials otherwise come from
// the usual AWS environment and shared config.
func NewClient(opts Options) (s3iface.S3API, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	cfg := aws.NewConfig().WithRegion(region)
	if opts.Endpoint != "" {
		cfg = cfg.WithEndpoint(opts.Endpoint).WithS3ForcePathStyle(true)
	}
	if opts.Anonymous {
		cfg = cfg.WithCredentials(credentials.AnonymousCredentials)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return s3.New(sess), nil
}

type SyncReport struct {
	Listed     int
	Downloaded int
	Unchanged  int
	Rejected   []string
}

type Mirror struct {
	client  s3iface.S3API
	bucket  string
	prefix  string
	dest    string
	metrics *metrics.Collector
}

// NewMirror copies objects under opts.Prefix into dest. m may be nil.
func NewMirror(client s3iface.S3API, opts Options, dest string, m *metrics.Collector) *Mirror {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "data"
	}
	return &Mirror{client: client, bucket: opts.Bucket, prefix: prefix, dest: dest, metrics: m}
}

// EnsureDirectories creates <dest>/data/A and <dest>/data/B.
func EnsureDirectories(dest string) error {
	for _, id := range []string{etl.LocationA, etl.LocationB} {
		if err := os.MkdirAll(filepath.Join(dest, "data", id), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Sync downloads every .json object that is missing locally or has changed size.
func (m *Mirror) Sync(ctx context.Context) (SyncReport, error) {
	var rep SyncReport
	var objects []*s3.Object
	err := m.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(m.prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, o := range page.Contents {
			if strings.HasSuffix(strings.ToLower(aws.StringValue(o.Key)), ".json") {
				objects = append(objects, o)
			}
		}
		return true
	})
	if err != nil {
		return rep, fmt.Errorf("list s3://%s/%s: %w", m.bucket, m.prefix, err)
	}
	rep.Listed = len(objects)
	log.Printf("%d objects listed in s3://%s/%s", len(objects), m.bucket, m.prefix)

	for i, o := range objects {
		key := aws.StringValue(o.Key)
		local, err := LocalPath(m.dest, key)
		if err != nil {
			rep.Rejected = append(rep.Rejected, key)
			m.observe(resultRejected, 0)
			log.Printf("rejecting %s: %v", key, err)
			continue
		}
		if fi, err := os.Stat(local); err == nil && fi.Size() == aws.Int64Value(o.Size) {
			rep.Unchanged++
			m.observe(resultUnchanged, 0)
			continue
		}

		start := time.Now()
		if err := m.download(ctx, key, local); err != nil {
			return rep, err
		}
		rep.Downloaded++
		m.observe(resultDownloaded, time.Since(start))
		log.Printf("%d/%d files saved.", i+1, len(objects))
	}
	return rep, nil
}

func (m *Mirror) download(ctx context.Context, key, local string) error {
	out, err := m.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(local), ".staging-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), local)
}

func (m *Mirror) observe(result string, d time.Duration) {
	if m.metrics == nil {
		return
	}
	m.metrics.StagedObjects.WithLabelValues(result).Inc()
	if result == resultDownloaded {
		m.metrics.StageDownloadTime.Observe(d.Seconds())
	}
}

// LocalPath maps an object key below dest, refusing keys that would escape it.
func LocalPath(dest, key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	rel := filepath.Clean(filepath.FromSlash(key))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes destination", key)
	}
	return filepath.Join(dest, rel), nil
}
