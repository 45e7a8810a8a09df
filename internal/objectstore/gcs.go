package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/onlab/orderdesk/internal/domain"
)

// GCSConfig configures a Google Cloud Storage gateway.
type GCSConfig struct {
	Bucket string
	// Prefix separates logical buckets sharing one GCS bucket, e.g. "uploads".
	Prefix string
	// CredentialsFile is a service account key; empty uses ADC.
	CredentialsFile string
	CredentialsJSON []byte
}

// GCSGateway stores objects in a Google Cloud Storage bucket.
type GCSGateway struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSGateway opens a storage client for cfg.Bucket.
func NewGCSGateway(ctx context.Context, cfg GCSConfig) (*GCSGateway, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}

	var opts []option.ClientOption
	switch {
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	c, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return NewGCSGatewayFromClient(c, cfg.Bucket, cfg.Prefix), nil
}

// NewGCSGatewayFromClient wraps an existing storage client.
func NewGCSGatewayFromClient(c *storage.Client, bucket, prefix string) *GCSGateway {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &GCSGateway{
		client: c,
		bucket: c.Bucket(bucket),
		prefix: prefix,
	}
}

// Close releases the storage client.
func (g *GCSGateway) Close() error {
	return g.client.Close()
}

// Upload implements Gateway.
func (g *GCSGateway) Upload(ctx context.Context, accountID string, f File) (string, error) {
	objectPath, err := ObjectPath(accountID, f.Name)
	if err != nil {
		return "", err
	}
	if f.Body == nil {
		return "", fmt.Errorf("%w: empty upload", domain.ErrInvalidInput)
	}

	// DoesNotExist keeps a retried upload from replacing a stored object.
	wc := g.bucket.Object(g.key(objectPath)).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	wc.ContentType = contentTypeOf(f)

	if _, err := io.Copy(wc, f.Body); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("upload %s: %w", objectPath, classifyGCS(err))
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", objectPath, classifyGCS(err))
	}
	return objectPath, nil
}

// Download implements Gateway.
func (g *GCSGateway) Download(ctx context.Context, objectPath string) ([]byte, error) {
	if err := validatePath(objectPath); err != nil {
		return nil, err
	}
	rc, err := g.bucket.Object(g.key(objectPath)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", objectPath, classifyGCS(err))
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", objectPath, classifyGCS(err))
	}
	return data, nil
}

// AddressFor implements Gateway with a V4 signed GET URL.
func (g *GCSGateway) AddressFor(ctx context.Context, objectPath string, expiry time.Duration) (string, error) {
	if err := validatePath(objectPath); err != nil {
		return "", err
	}
	if expiry <= 0 {
		return "", fmt.Errorf("%w: expiry must be positive", domain.ErrInvalidInput)
	}

	key := g.key(objectPath)
	if _, err := g.bucket.Object(key).Attrs(ctx); err != nil {
		return "", fmt.Errorf("sign %s: %w", objectPath, classifyGCS(err))
	}

	signed, err := g.bucket.SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(expiry),
	})
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", objectPath, err)
	}
	return signed, nil
}

// Delete implements Gateway.
func (g *GCSGateway) Delete(ctx context.Context, objectPath string) error {
	if err := validatePath(objectPath); err != nil {
		return err
	}
	err := g.bucket.Object(g.key(objectPath)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete %s: %w", objectPath, classifyGCS(err))
	}
	return nil
}

func (g *GCSGateway) key(objectPath string) string {
	return g.prefix + objectPath
}

func classifyGCS(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", domain.ErrTransient, err)
		}
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	return err
}
