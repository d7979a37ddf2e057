package deploy

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"crawl-scheduler/internal/config"
)

// maxPackageBytes caps how much of a package is read into memory.
const maxPackageBytes = 64 << 20

// Source yields the bytes of a built project package.
type Source interface {
	Open(ctx context.Context) ([]byte, error)
	String() string
}

// Bytes is a package already held in memory, e.g. an uploaded form file.
type Bytes []byte

func (b Bytes) Open(context.Context) ([]byte, error) { return b, nil }
func (b Bytes) String() string                       { return fmt.Sprintf("upload (%d bytes)", len(b)) }

// File reads a package from the local filesystem.
type File string

func (f File) Open(context.Context) ([]byte, error) {
	fh, err := os.Open(string(f))
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	defer fh.Close()
	return readLimited(fh)
}

func (f File) String() string { return string(f) }

type objectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Object reads a package from an S3-compatible bucket.
type S3Object struct {
	client objectGetter
	bucket string
	key    string
}

// NewS3Object builds an S3 client from the package bucket settings.
func NewS3Object(ctx context.Context, cfg config.Config, key string) (*S3Object, error) {
	if cfg.PackageS3Bucket == "" {
		return nil, fmt.Errorf("package bucket not configured")
	}
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &S3Object{client: client, bucket: cfg.PackageS3Bucket, key: key}, nil
}

func (o *S3Object) Open(ctx context.Context) ([]byte, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", o.bucket, o.key, err)
	}
	defer out.Body.Close()
	return readLimited(out.Body)
}

func (o *S3Object) String() string { return fmt.Sprintf("s3://%s/%s", o.bucket, o.key) }

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.PackageS3Region),
	}
	if cfg.PackageS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.PackageS3Endpoint,
					HostnameImmutable: cfg.PackageS3PathStyle,
					SigningRegion:     cfg.PackageS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PackageS3PathStyle
	}), nil
}

func readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxPackageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read package: %w", err)
	}
	if len(body) > maxPackageBytes {
		return nil, fmt.Errorf("package too large (>%d bytes)", maxPackageBytes)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("package is empty")
	}
	return body, nil
}
