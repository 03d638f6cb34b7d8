// Package source abstracts where media items come from. A source lists
// items and fetches them to the local filesystem for processing; the item
// path is the stable identity the dedup key is derived from.
package source

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/photo-courier/internal/config"
)

// Item is one media file offered by a source.
type Item struct {
	// Path identifies the item within its source and never changes across
	// scans of the same file.
	Path string
	// Size in bytes when the source knows it, 0 otherwise.
	Size int64
}

// Source lists and fetches media items.
type Source interface {
	Name() string
	List(ctx context.Context) ([]Item, error)

	// Fetch makes the item available as a local file. The cleanup func must
	// be called on every exit path; for sources that download, it removes
	// the temporary file.
	Fetch(ctx context.Context, item Item) (localPath string, cleanup func(), err error)

	// Delete removes the item from the source.
	Delete(ctx context.Context, item Item) error
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

var videoExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".m4v":  true,
	".mpg":  true,
	".mpeg": true,
}

// IsImage reports whether the path looks like a supported image.
func IsImage(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsVideo reports whether the path looks like a supported video clip.
func IsVideo(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsMedia reports whether the path is a supported media file of either kind.
func IsMedia(path string) bool {
	return IsImage(path) || IsVideo(path)
}

// Resolve maps a configured source string to an implementation. Strings of
// the form blob://container/prefix select the blob source; anything else is
// treated as a local directory.
func Resolve(cfg *config.Config, raw string) (Source, error) {
	if after, ok := strings.CutPrefix(raw, "blob://"); ok {
		container, prefix, _ := strings.Cut(after, "/")
		if container == "" {
			return nil, fmt.Errorf("blob source %q is missing a container name", raw)
		}
		return NewBlobSource(cfg.Blob.ConnectionString, container, prefix)
	}
	return NewLocalDir(raw), nil
}
