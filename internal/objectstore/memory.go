package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/onlab/orderdesk/internal/domain"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryGateway keeps objects in process memory.
type MemoryGateway struct {
	mu        sync.RWMutex
	bucket    string
	objects   map[string]memoryObject
	uploadErr error
	now       func() time.Time
}

// NewMemoryGateway creates an empty in-memory bucket.
func NewMemoryGateway(bucket string) *MemoryGateway {
	return &MemoryGateway{
		bucket:  bucket,
		objects: make(map[string]memoryObject),
		now:     time.Now,
	}
}

// FailUploads makes every following Upload return err. A nil err restores
// normal behavior.
func (g *MemoryGateway) FailUploads(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploadErr = err
}

// Upload implements Gateway.
func (g *MemoryGateway) Upload(ctx context.Context, accountID string, f File) (string, error) {
	objectPath, err := ObjectPath(accountID, f.Name)
	if err != nil {
		return "", err
	}
	if f.Body == nil {
		return "", fmt.Errorf("%w: empty upload", domain.ErrInvalidInput)
	}

	g.mu.RLock()
	uploadErr := g.uploadErr
	g.mu.RUnlock()
	if uploadErr != nil {
		return "", uploadErr
	}

	data, err := io.ReadAll(f.Body)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.objects[objectPath] = memoryObject{data: data, contentType: contentTypeOf(f)}
	return objectPath, nil
}

// Download implements Gateway.
func (g *MemoryGateway) Download(_ context.Context, objectPath string) ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	obj, ok := g.objects[objectPath]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", objectPath, domain.ErrNotFound)
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

// AddressFor implements Gateway. The returned URL is only meaningful to
// tests and local development.
func (g *MemoryGateway) AddressFor(_ context.Context, objectPath string, expiry time.Duration) (string, error) {
	g.mu.RLock()
	_, ok := g.objects[objectPath]
	g.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("object %s: %w", objectPath, domain.ErrNotFound)
	}
	if expiry <= 0 {
		return "", fmt.Errorf("%w: expiry must be positive", domain.ErrInvalidInput)
	}

	u := url.URL{
		Scheme:   "memory",
		Host:     g.bucket,
		Path:     "/" + objectPath,
		RawQuery: url.Values{"expires": {fmt.Sprint(g.now().Add(expiry).Unix())}}.Encode(),
	}
	return u.String(), nil
}

// Delete implements Gateway.
func (g *MemoryGateway) Delete(_ context.Context, objectPath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.objects, objectPath)
	return nil
}

// Len returns the number of stored objects.
func (g *MemoryGateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.objects)
}
