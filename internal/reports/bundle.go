package reports

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/onlab/orderdesk/internal/domain"
)

// ZipContentType is the media type of WriteBundle output.
const ZipContentType = "application/zip"

// Downloader reads stored objects.
type Downloader interface {
	Download(ctx context.Context, objectPath string) ([]byte, error)
}

// WriteBundle zips the report files of a result into w. Entry names are the
// stored file names without their unique prefix; clashes get a numeric suffix.
func WriteBundle(ctx context.Context, w io.Writer, store Downloader, result *domain.Result) error {
	if result == nil || len(result.ReportPaths) == 0 {
		return fmt.Errorf("%w: result has no reports", domain.ErrNotFound)
	}

	zw := zip.NewWriter(w)
	used := make(map[string]int, len(result.ReportPaths))
	modified := result.CreatedAt
	if modified.IsZero() {
		modified = time.Now()
	}

	for _, p := range result.ReportPaths {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := store.Download(ctx, p)
		if err != nil {
			return fmt.Errorf("download %s: %w", p, err)
		}

		hdr := &zip.FileHeader{
			Name:     uniqueName(used, EntryName(p)),
			Method:   zip.Deflate,
			Modified: modified,
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("add %s: %w", hdr.Name, err)
		}
		if _, err := fw.Write(data); err != nil {
			return fmt.Errorf("write %s: %w", hdr.Name, err)
		}
	}
	return zw.Close()
}

// EntryName strips the account directory and the uuid prefix from an object path.
func EntryName(objectPath string) string {
	base := path.Base(objectPath)
	// {uuid}-{name}; a uuid is 36 characters.
	if len(base) > 37 && base[36] == '-' && strings.Count(base[:36], "-") == 4 {
		base = base[37:]
	}
	return base
}

func uniqueName(used map[string]int, name string) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n+1, ext)
}
