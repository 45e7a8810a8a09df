// Package objectstore stores user uploads and fulfillment reports.
//
// Every object lives under the id of the account that owns it, so paths
// have the shape "{accountID}/{uuid}-{name}". Backends report failures as
// errors wrapping domain.ErrNotFound or domain.ErrTransient where that
// applies; nothing is swallowed.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/onlab/orderdesk/internal/domain"
)

// File is an upload handed to a Gateway.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Gateway is the object store contract used by the workflow engine.
type Gateway interface {
	// Upload stores f under accountID and returns its path.
	Upload(ctx context.Context, accountID string, f File) (string, error)
	// Download returns the object bytes or an error wrapping domain.ErrNotFound.
	Download(ctx context.Context, objectPath string) ([]byte, error)
	// AddressFor returns a URL that grants read access until expiry elapses.
	AddressFor(ctx context.Context, objectPath string, expiry time.Duration) (string, error)
	// Delete removes the object. Deleting a missing object succeeds.
	Delete(ctx context.Context, objectPath string) error
}

const maxNameLength = 96

// ObjectPath builds a fresh object path for name owned by accountID.
func ObjectPath(accountID, name string) (string, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" || strings.ContainsAny(accountID, "/\\") {
		return "", fmt.Errorf("%w: invalid account id %q", domain.ErrInvalidInput, accountID)
	}
	return accountID + "/" + uuid.NewString() + "-" + SanitizeName(name), nil
}

// OwnedBy reports whether objectPath is namespaced under accountID.
func OwnedBy(objectPath, accountID string) bool {
	return accountID != "" && strings.HasPrefix(objectPath, accountID+"/")
}

// SanitizeName reduces a client-supplied file name to a safe path segment.
func SanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" {
		name = ""
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	clean := strings.TrimLeft(b.String(), ".")
	if clean == "" {
		return "file"
	}
	if len(clean) > maxNameLength {
		ext := path.Ext(clean)
		if len(ext) > 16 {
			ext = ""
		}
		clean = clean[:maxNameLength-len(ext)] + ext
	}
	return clean
}

func validatePath(objectPath string) error {
	if objectPath == "" || strings.HasPrefix(objectPath, "/") || strings.Contains(objectPath, "..") {
		return fmt.Errorf("%w: invalid object path %q", domain.ErrInvalidInput, objectPath)
	}
	return nil
}

func contentTypeOf(f File) string {
	if f.ContentType != "" {
		return f.ContentType
	}
	switch strings.ToLower(path.Ext(f.Name)) {
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
