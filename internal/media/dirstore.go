// Package media stores attachment bytes for the local service.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/adamavenir/murmur/internal/core"
	"github.com/adamavenir/murmur/internal/service"
	"github.com/adamavenir/murmur/internal/types"
	"github.com/dustin/go-humanize"
)

// DefaultMaxSize caps a single upload.
const DefaultMaxSize = 25 * 1000 * 1000

// RefScheme prefixes references returned by DirStore.
const RefScheme = "media:"

// DirStore keeps uploads as files in one directory.
type DirStore struct {
	dir     string
	maxSize int64
}

var _ service.FileStore = (*DirStore)(nil)

// NewDirStore stores uploads under dir. A maxSize of zero means DefaultMaxSize.
func NewDirStore(dir string, maxSize int64) *DirStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &DirStore{dir: dir, maxSize: maxSize}
}

// Upload copies r into the store and returns its reference. The write is
// staged in a temp file so a failed or canceled upload leaves nothing behind.
func (s *DirStore) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	id, err := core.GenerateGUID(core.MediaPrefix)
	if err != nil {
		return "", err
	}
	file := id + extension(name, contentType)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(&ctxReader{ctx: ctx, r: r}, s.maxSize+1))
	closeErr := tmp.Close()
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if closeErr != nil {
		return "", closeErr
	}
	if n > s.maxSize {
		return "", &types.ValidationError{
			Field:  "attachment",
			Reason: fmt.Sprintf("%s is larger than %s", name, humanize.Bytes(uint64(s.maxSize))),
		}
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, file)); err != nil {
		return "", err
	}
	return RefScheme + file, nil
}

// Path resolves a reference returned by Upload.
func (s *DirStore) Path(ref string) (string, error) {
	file, ok := strings.CutPrefix(ref, RefScheme)
	if !ok || file == "" || file != filepath.Base(file) {
		return "", fmt.Errorf("media ref %q: %w", ref, types.ErrNotFound)
	}
	path := filepath.Join(s.dir, file)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("media ref %q: %w", ref, types.ErrNotFound)
		}
		return "", err
	}
	return path, nil
}

func extension(name, contentType string) string {
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" && len(ext) <= 8 {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
