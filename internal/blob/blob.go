// Package blob stores uploaded audio on local disk under forward-slash keys
// such as "audio/1/3f2c....wav".
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

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrTooLarge   = errors.New("blob exceeds size limit")
	ErrInvalidKey = errors.New("invalid blob key")
)

// Store persists opaque blobs by key.
type Store interface {
	Save(ctx context.Context, key string, r io.Reader, maxBytes int64) (int64, error)
	Delete(ctx context.Context, key string) error
}

// NewKey builds a fresh key for a user's audio file. ext keeps its leading dot.
func NewKey(userID int64, ext string) string {
	return fmt.Sprintf("audio/%d/%s%s", userID, uuid.NewString(), strings.ToLower(ext))
}

// DiskStore keeps blobs as files below Root.
type DiskStore struct {
	Root string
}

func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &DiskStore{Root: root}, nil
}

// Save streams r to key, refusing more than maxBytes (0 means no limit). The
// file appears atomically: it is written to a temp name and renamed.
func (d *DiskStore) Save(ctx context.Context, key string, r io.Reader, maxBytes int64) (int64, error) {
	dst, err := d.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: src})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write blob %s: %w", key, err)
	}
	if maxBytes > 0 && n > maxBytes {
		return 0, ErrTooLarge
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("commit blob %s: %w", key, err)
	}
	return n, nil
}

func (d *DiskStore) Delete(_ context.Context, key string) error {
	p, err := d.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

// resolve maps a key to a path under Root, rejecting keys that escape it.
func (d *DiskStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(d.Root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// ctxReader stops a copy once ctx is done.
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

// Compile-time check that DiskStore implements Store.
var _ Store = (*DiskStore)(nil)
