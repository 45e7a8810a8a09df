package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/onlab/orderdesk/internal/domain"
	"github.com/onlab/orderdesk/supabase/client"
)

// SupabaseGateway stores objects in one Supabase Storage bucket.
type SupabaseGateway struct {
	bucket *client.BucketClient
	name   string
}

// NewSupabaseGateway returns a gateway for bucket.
func NewSupabaseGateway(c *client.Client, bucket string) *SupabaseGateway {
	return &SupabaseGateway{
		bucket: c.Storage().From(bucket),
		name:   bucket,
	}
}

// Upload implements Gateway.
func (g *SupabaseGateway) Upload(ctx context.Context, accountID string, f File) (string, error) {
	objectPath, err := ObjectPath(accountID, f.Name)
	if err != nil {
		return "", err
	}
	if f.Body == nil {
		return "", fmt.Errorf("%w: empty upload", domain.ErrInvalidInput)
	}

	err = g.bucket.Upload(ctx, objectPath, f.Body, client.UploadOptions{
		ContentType: contentTypeOf(f),
		Size:        f.Size,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to %s: %w", objectPath, g.name, classifySupabase(err))
	}
	return objectPath, nil
}

// Download implements Gateway.
func (g *SupabaseGateway) Download(ctx context.Context, objectPath string) ([]byte, error) {
	if err := validatePath(objectPath); err != nil {
		return nil, err
	}
	data, err := g.bucket.Download(ctx, objectPath)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", objectPath, classifySupabase(err))
	}
	return data, nil
}

// AddressFor implements Gateway using a signed URL.
func (g *SupabaseGateway) AddressFor(ctx context.Context, objectPath string, expiry time.Duration) (string, error) {
	if err := validatePath(objectPath); err != nil {
		return "", err
	}
	if expiry <= 0 {
		return "", fmt.Errorf("%w: expiry must be positive", domain.ErrInvalidInput)
	}
	signed, err := g.bucket.CreateSignedURL(ctx, objectPath, expiry)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", objectPath, classifySupabase(err))
	}
	return signed, nil
}

// Delete implements Gateway.
func (g *SupabaseGateway) Delete(ctx context.Context, objectPath string) error {
	if err := validatePath(objectPath); err != nil {
		return err
	}
	if err := g.bucket.Remove(ctx, []string{objectPath}); err != nil {
		return fmt.Errorf("delete %s: %w", objectPath, classifySupabase(err))
	}
	return nil
}

func classifySupabase(err error) error {
	if client.IsNotFound(err) {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Temporary() {
			return fmt.Errorf("%w: %v", domain.ErrTransient, err)
		}
		return err
	}

	var netErr net.Error
	if errors.Is(err, client.ErrCircuitOpen) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	return err
}
