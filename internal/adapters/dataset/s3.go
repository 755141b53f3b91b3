package dataset

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/moby/sys/atomicwriter"

	"github.com/okian/shrinkrank/internal/domain/model"
	"github.com/okian/shrinkrank/pkg/logger"
)

const defaultRegion = "us-east-1"

// ObjectAPI is the subset of the S3 client the provider needs.
type ObjectAPI interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config locates an S3 compatible object store. Empty credentials fall
// back to the default AWS credential chain.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3Client builds a client for cfg. A custom endpoint switches to
// path-style addressing so MinIO and similar stores work.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: aws config: %w", model.ErrDataset, err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// ParseURI splits s3://bucket/prefix. The prefix may be empty.
func ParseURI(uri string) (bucket, prefix string, err error) {
	const scheme = "s3://"
	if !strings.HasPrefix(uri, scheme) {
		return "", "", fmt.Errorf("%w: bad s3 uri (missing s3://): %q", model.ErrDataset, uri)
	}
	rest := strings.TrimPrefix(uri, scheme)
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: bad s3 uri (missing bucket): %q", model.ErrDataset, uri)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return bucket, prefix, nil
}

// S3Provider mirrors an image folder tree from object storage into a local
// cache directory and reads it from there.
type S3Provider struct {
	client   ObjectAPI
	bucket   string
	prefix   string
	cacheDir string
	local    *LocalProvider
	logger   logger.Logger
}

// NewS3Provider creates a provider for s3://bucket/prefix cached under cacheDir.
func NewS3Provider(client ObjectAPI, uri, cacheDir string, extensions []string) (*S3Provider, error) {
	bucket, prefix, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return &S3Provider{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		cacheDir: cacheDir,
		local:    NewLocalProvider(cacheDir, extensions),
		logger:   logger.Get().Named("dataset"),
	}, nil
}

// Root implements Provider.
func (p *S3Provider) Root() string { return p.cacheDir }

// Samples implements Provider. Objects already cached with the same size are
// not downloaded again.
func (p *S3Provider) Samples(ctx context.Context) ([]Sample, error) {
	if err := p.sync(ctx); err != nil {
		return nil, err
	}
	return p.local.Samples(ctx)
}

func (p *S3Provider) sync(ctx context.Context) error {
	pager := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(p.prefix),
	})

	var fetched, cached int
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("%w: list s3://%s/%s: %w", model.ErrDataset, p.bucket, p.prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel, ok := relativeKey(key, p.prefix)
			if !ok || !p.local.accepts(rel) {
				continue
			}
			dst := filepath.Join(p.cacheDir, filepath.FromSlash(rel))
			if st, err := os.Stat(dst); err == nil && st.Size() == aws.ToInt64(obj.Size) {
				cached++
				continue
			}
			if err := p.download(ctx, key, dst); err != nil {
				return err
			}
			fetched++
		}
	}

	p.logger.Info(ctx, "dataset synchronized",
		logger.String("bucket", p.bucket),
		logger.String("prefix", p.prefix),
		logger.Int("downloaded", fetched),
		logger.Int("cached", cached),
	)
	return nil
}

func (p *S3Provider) download(ctx context.Context, key, dst string) error {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%w: get s3://%s/%s: %w", model.ErrDataset, p.bucket, key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("%w: %w", model.ErrDataset, err)
	}
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("%w: download s3://%s/%s: %w", model.ErrDataset, p.bucket, key, err)
	}
	if err := atomicwriter.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("%w: cache %s: %w", model.ErrDataset, dst, err)
	}
	return nil
}

// relativeKey maps an object key to a slash path under the cache dir. Only
// keys exactly two levels below the prefix (<label>/<file>) qualify.
func relativeKey(key, prefix string) (string, bool) {
	rel := strings.TrimPrefix(key, prefix)
	if rel == key && prefix != "" {
		return "", false
	}
	if strings.HasSuffix(rel, "/") {
		return "", false
	}
	rel = path.Clean(rel)
	parts := strings.Split(rel, "/")
	if len(parts) != 2 {
		return "", false
	}
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return "", false
		}
	}
	return rel, true
}
