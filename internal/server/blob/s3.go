package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hi-space/next-memo/internal/common"
	sc "github.com/hi-space/next-memo/internal/server/config"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}
)

// s3API is the subset of *s3.Client the gateway uses; a seam for tests.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// s3PresignAPI is the subset of *s3.PresignClient the gateway uses.
type s3PresignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Gateway implements Gateway over an S3 (or S3-compatible) bucket.
// The underlying clients are constructed once at startup and reused for
// the lifetime of the process.
type S3Gateway struct {
	client       s3API
	presign      s3PresignAPI
	bucket       string
	region       string
	baseEndpoint string

	// Set when a CDN front is configured; KeyFromURL then also accepts
	// PublicBaseURL-rooted retrieval URLs.
	publicHost   string
	publicPrefix string
}

// NewS3Gateway builds the gateway from server config. A non-empty
// S3BaseEndpoint targets an S3-compatible server (e.g. MinIO) and
// switches to path-style addressing.
func NewS3Gateway(ctx context.Context, c *sc.Config) (*S3Gateway, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(c.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.S3AccessKey,
			c.S3SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.S3BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	g := &S3Gateway{
		client:       client,
		presign:      newS3PresignClient(client),
		bucket:       c.S3Bucket,
		region:       c.S3Region,
		baseEndpoint: strings.TrimRight(c.S3BaseEndpoint, "/"),
	}

	if c.PublicBaseURL != "" {
		pb, err := url.Parse(c.PublicBaseURL)
		if err != nil || pb.Host == "" {
			return nil, fmt.Errorf("malformed public base url %q", c.PublicBaseURL)
		}
		g.publicHost = pb.Host
		g.publicPrefix = strings.Trim(pb.Path, "/")
	}

	return g, nil
}

func (g *S3Gateway) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", common.ErrorStorage, key, err)
	}
	return nil
}

func (g *S3Gateway) Get(ctx context.Context, key string) ([]byte, string, error) {
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("%w: get %s: %v", common.ErrorStorage, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read %s: %v", common.ErrorStorage, key, err)
	}

	contentType := "application/octet-stream"
	if out.ContentType != nil && *out.ContentType != "" {
		contentType = *out.ContentType
	}
	return data, contentType, nil
}

// Delete is idempotent: S3 DeleteObject succeeds for absent keys, so
// deleting twice never raises an error.
func (g *S3Gateway) Delete(ctx context.Context, key string) error {
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", common.ErrorStorage, key, err)
	}
	return nil
}

func (g *S3Gateway) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := g.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("%w: presign %s: %v", common.ErrorStorage, key, err)
	}
	return req.URL, nil
}

// ObjectURL returns the canonical URL persisted in memo records:
// virtual-hosted AWS form by default, path-style under a custom base
// endpoint.
func (g *S3Gateway) ObjectURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if g.baseEndpoint != "" {
		return fmt.Sprintf("%s/%s/%s", g.baseEndpoint, g.bucket, escaped)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", g.bucket, g.region, escaped)
}

// KeyFromURL inverts the retrieval URL forms this gateway hands out:
// virtual-hosted and path-style canonical URLs for this bucket,
// presigned variants of those (the query string is ignored), and
// PublicBaseURL-rooted CDN URLs when a CDN front is configured.
func (g *S3Gateway) KeyFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("malformed file url %q", rawURL)
	}

	// u.Path is already percent-decoded.
	p := strings.TrimPrefix(u.Path, "/")

	// CDN form: rooted at the configured public base.
	if g.publicHost != "" && u.Host == g.publicHost {
		if g.publicPrefix != "" {
			rest, ok := strings.CutPrefix(p, g.publicPrefix+"/")
			if !ok {
				return "", fmt.Errorf("file url %q outside public base path", rawURL)
			}
			p = rest
		}
		if p == "" {
			return "", fmt.Errorf("malformed file url %q: empty key", rawURL)
		}
		return p, nil
	}

	// Virtual-hosted: bucket rides in the hostname.
	if strings.HasPrefix(u.Host, g.bucket+".") {
		if p == "" {
			return "", fmt.Errorf("malformed file url %q: empty key", rawURL)
		}
		return p, nil
	}

	// Path-style: first segment is the bucket.
	if rest, ok := strings.CutPrefix(p, g.bucket+"/"); ok && rest != "" {
		return rest, nil
	}

	return "", fmt.Errorf("file url %q does not reference bucket %q", rawURL, g.bucket)
}
