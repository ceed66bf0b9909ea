package origin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// S3Config configures the object-storage origin used for gallery media
// and video uploads.
type S3Config struct {
	Bucket         string `yaml:"bucket"`
	Prefix         string `yaml:"prefix"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

// S3Origin serves media directly from the platform's upload bucket. The
// request path maps to an object key under the configured prefix; Range
// headers pass through to S3, which range-serves natively.
type S3Origin struct {
	client *s3.Client
	bucket string
	prefix string
	logger *log.Entry
}

// NewS3Origin creates an S3-backed origin fetcher.
func NewS3Origin(ctx context.Context, cfg S3Config) (*S3Origin, error) {
	if cfg.Bucket == "" {
		return nil, xerrors.New("s3 origin requires a bucket")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, xerrors.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Origin{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: log.WithFields(log.Fields{"package": "origin", "bucket": cfg.Bucket}),
	}, nil
}

// Fetch retrieves the object whose key matches the request path. Only GET
// is supported; the media bucket is read-only from the cache's side.
func (o *S3Origin) Fetch(ctx context.Context, method, rawURL string, header http.Header) (*Response, error) {
	if method != http.MethodGet {
		return nil, xerrors.Errorf("s3 origin supports GET only, got %s", method)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, xerrors.Errorf("invalid media URL %q: %w", rawURL, err)
	}
	key := strings.TrimPrefix(path.Join(o.prefix, u.Path), "/")

	input := &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	}
	if r := header.Get("Range"); r != "" {
		input.Range = aws.String(r)
	}

	out, err := o.client.GetObject(ctx, input)
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return &Response{
				Status: http.StatusNotFound,
				Header: http.Header{},
				Body:   http.NoBody,
			}, nil
		}
		return nil, xerrors.Errorf("failed to get object %s: %w", key, err)
	}

	hdr := http.Header{}
	hdr.Set("Accept-Ranges", "bytes")
	if out.ContentType != nil {
		hdr.Set("Content-Type", *out.ContentType)
	}
	if out.ContentLength != nil {
		hdr.Set("Content-Length", fmt.Sprintf("%d", *out.ContentLength))
	}
	if out.LastModified != nil {
		hdr.Set("Last-Modified", out.LastModified.UTC().Format(time.RFC1123))
	}

	status := http.StatusOK
	if out.ContentRange != nil {
		hdr.Set("Content-Range", *out.ContentRange)
		status = http.StatusPartialContent
	}

	return &Response{
		Status: status,
		Header: hdr,
		Body:   out.Body,
	}, nil
}
