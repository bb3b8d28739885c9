// Package blob reads stored page files from the local static directory or an S3 bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MaxSize caps how many bytes a single file read may return.
const MaxSize = 32 << 20

var (
	ErrNotFound = errors.New("file not found")
	ErrTooLarge = errors.New("file too large")
	ErrBadPath  = errors.New("invalid file path")
)

// Reader fetches the bytes stored under a relative path.
type Reader interface {
	Read(ctx context.Context, name string) ([]byte, error)
}

// Local reads files below a root directory.
type Local struct {
	root string
}

func NewLocal(root string) *Local {
	return &Local{root: root}
}

func (l *Local) Read(_ context.Context, name string) ([]byte, error) {
	clean, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(l.root, filepath.FromSlash(clean)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readLimited(f)
}

// S3Options configures an S3 (or S3-compatible) bucket reader.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	PathStyle       bool
}

// S3 reads objects from a bucket, keyed by prefix + relative path.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3(opts S3Options) *S3 {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	o := s3.Options{
		Region:       region,
		UsePathStyle: opts.PathStyle,
	}
	if opts.AccessKeyID != "" {
		o.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		)
	}
	if opts.Endpoint != "" {
		o.BaseEndpoint = aws.String(strings.TrimRight(opts.Endpoint, "/"))
	}
	return &S3{
		client: s3.New(o),
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
	}
}

func (b *S3) Read(ctx context.Context, name string) ([]byte, error) {
	clean, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	key := clean
	if b.prefix != "" {
		key = b.prefix + "/" + clean
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()
	return readLimited(out.Body)
}

func cleanName(name string) (string, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if trimmed == "" {
		return "", ErrBadPath
	}
	clean := strings.TrimPrefix(path.Clean("/"+trimmed), "/")
	if clean == "" || clean == "." {
		return "", ErrBadPath
	}
	return clean, nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxSize {
		return nil, ErrTooLarge
	}
	return data, nil
}
