// Package objectstore stages export files from an S3 compatible bucket into a
// local directory laid out like an input root.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// ErrUnsafeKey is returned for object keys that cannot be mapped below the
// staging directory.
var ErrUnsafeKey = errors.New("object key escapes staging directory")

// Object is one listed export file
type Object struct {
	Key  string
	Size int64
}

// MirrorSummary counts what one Mirror call did
type MirrorSummary struct {
	Downloaded int
	Skipped    int
	Bytes      int64
}

type Client struct {
	s3Client *s3.Client
	bucket   string
	prefix   string
	logger   *zap.Logger
}

// NewClient builds a path-style client with static credentials, so MinIO and
// other S3 compatible endpoints work.
func NewClient(cfg map[string]string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	useSSL := true
	if sslStr := cfg["use_ssl"]; sslStr != "" {
		if parsed, err := strconv.ParseBool(sslStr); err == nil {
			useSSL = parsed
		}
	}

	region := cfg["region"]
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg["access_key_id"],
			cfg["secret_access_key"],
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := endpointURL(cfg["endpoint"], useSSL)
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	return &Client{
		s3Client: s3Client,
		bucket:   cfg["bucket"],
		prefix:   normalizePrefix(cfg["prefix"]),
		logger:   logger,
	}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.bucket),
		Prefix:  aws.String(c.prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to S3: %w", err)
	}
	return nil
}

// List returns every object below the prefix whose extension is accepted
func (c *Client) List(ctx context.Context, extensions []string) ([]Object, error) {
	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(c.prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") || !hasExtension(path.Ext(key), extensions) {
				continue
			}
			objects = append(objects, Object{Key: key, Size: aws.ToInt64(obj.Size)})
		}
	}

	return objects, nil
}

// Mirror downloads every accepted object into dest, keeping the key layout
// below the prefix. Files already present with the same size are skipped.
func (c *Client) Mirror(ctx context.Context, dest string, extensions []string) (MirrorSummary, error) {
	objects, err := c.List(ctx, extensions)
	if err != nil {
		return MirrorSummary{}, err
	}

	var sum MirrorSummary
	for _, obj := range objects {
		target, err := localPath(dest, c.prefix, obj.Key)
		if err != nil {
			c.logger.Warn("Skipping object", zap.String("key", obj.Key), zap.Error(err))
			sum.Skipped++
			continue
		}
		if info, err := os.Stat(target); err == nil && info.Size() == obj.Size {
			sum.Skipped++
			continue
		}

		n, err := c.download(ctx, obj.Key, target)
		if err != nil {
			return sum, err
		}
		sum.Downloaded++
		sum.Bytes += n
	}

	c.logger.Info("Mirrored bucket",
		zap.String("bucket", c.bucket),
		zap.String("prefix", c.prefix),
		zap.String("dest", dest),
		zap.Int("downloaded", sum.Downloaded),
		zap.Int("skipped", sum.Skipped),
		zap.Int64("bytes", sum.Bytes))
	return sum, nil
}

func (c *Client) download(ctx context.Context, key, target string) (int64, error) {
	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer result.Body.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create staging directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, result.Body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to download %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to move %s into place: %w", key, err)
	}
	return n, nil
}

func endpointURL(endpoint string, useSSL bool) string {
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// localPath maps an object key below prefix to a file below dest
func localPath(dest, prefix, key string) (string, error) {
	rel := strings.TrimPrefix(key, prefix)
	for _, segment := range strings.Split(rel, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %s", ErrUnsafeKey, key)
		}
	}
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	if rel == "" {
		return "", fmt.Errorf("%w: %s", ErrUnsafeKey, key)
	}
	return filepath.Join(dest, filepath.FromSlash(rel)), nil
}

func hasExtension(ext string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(ext, a) {
			return true
		}
	}
	return false
}
