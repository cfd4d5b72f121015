// Package local provides the filesystem-backed implementation of
// remotekit.RemoteFileClient. It serves file:// URIs, acts as the local
// endpoint for transfers, and covers platform-managed document trees,
// which reach Go code as ordinary mounted paths.
package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gobeaver/remotekit"
)

// Client implements remotekit.RemoteFileClient over the local filesystem.
type Client struct {
	root   string
	closed atomic.Bool

	mu       sync.Mutex
	watchers []*watcher
}

// New creates a local client. root scopes all paths; an empty root means
// absolute paths are used as-is.
func New(root string) (*Client, error) {
	if root == "" {
		return &Client{}, nil
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Client{root: abs}, nil
}

// Scheme implements remotekit.RemoteFileClient
func (c *Client) Scheme() string { return remotekit.SchemeLocal }

func (c *Client) fullPath(p string) string {
	if c.root == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(c.root, filepath.Clean(p))
}

// List implements remotekit.RemoteFileClient
func (c *Client) List(ctx context.Context, dir string) ([]remotekit.FileEntry, error) {
	if err := c.check(ctx, "list", dir); err != nil {
		return nil, err
	}

	full := c.fullPath(dir)
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, mapOSError("list", dir, err)
	}

	out := make([]remotekit.FileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// Entry vanished between ReadDir and Info; skip it.
			continue
		}
		out = append(out, remotekit.FileEntry{
			Name:    e.Name(),
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   e.IsDir(),
		})
	}
	return out, nil
}

// ReadRange implements remotekit.RemoteFileClient
func (c *Client) ReadRange(ctx context.Context, path string, offset int64, p []byte) (int, error) {
	if err := c.check(ctx, "read", path); err != nil {
		return 0, err
	}

	f, err := os.Open(c.fullPath(path))
	if err != nil {
		return 0, mapOSError("read", path, err)
	}
	defer f.Close()

	n, err := f.ReadAt(p, offset)
	if err == io.EOF {
		if n == 0 {
			return 0, io.EOF
		}
		err = nil
	}
	if err != nil {
		return n, mapOSError("read", path, err)
	}
	return n, nil
}

// Write implements remotekit.RemoteFileClient
func (c *Client) Write(ctx context.Context, path string, r io.Reader) error {
	if err := c.check(ctx, "write", path); err != nil {
		return err
	}

	full := c.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return mapOSError("write", path, err)
	}

	f, err := os.Create(full)
	if err != nil {
		return mapOSError("write", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(full)
		return mapOSError("write", path, err)
	}
	if err := f.Close(); err != nil {
		return mapOSError("write", path, err)
	}
	return nil
}

// Delete implements remotekit.RemoteFileClient
func (c *Client) Delete(ctx context.Context, path string) error {
	if err := c.check(ctx, "delete", path); err != nil {
		return err
	}
	if err := os.Remove(c.fullPath(path)); err != nil {
		return mapOSError("delete", path, err)
	}
	return nil
}

// Mkdir implements remotekit.RemoteFileClient
func (c *Client) Mkdir(ctx context.Context, path string) error {
	if err := c.check(ctx, "mkdir", path); err != nil {
		return err
	}
	if err := os.MkdirAll(c.fullPath(path), 0o755); err != nil {
		return mapOSError("mkdir", path, err)
	}
	return nil
}

// Exists implements remotekit.RemoteFileClient
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	if err := c.check(ctx, "exists", path); err != nil {
		return false, err
	}
	_, err := os.Stat(c.fullPath(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, mapOSError("exists", path, err)
}

// Stat implements remotekit.RemoteFileClient
func (c *Client) Stat(ctx context.Context, path string) (*remotekit.FileEntry, error) {
	if err := c.check(ctx, "stat", path); err != nil {
		return nil, err
	}

	info, err := os.Stat(c.fullPath(path))
	if err != nil {
		return nil, mapOSError("stat", path, err)
	}
	return &remotekit.FileEntry{
		Name:    filepath.Base(path),
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

// TestConnection implements remotekit.RemoteFileClient
func (c *Client) TestConnection(ctx context.Context) error {
	if err := c.check(ctx, "test", c.root); err != nil {
		return err
	}
	probe := c.root
	if probe == "" {
		probe = "."
	}
	if _, err := os.Stat(probe); err != nil {
		return mapOSError("test", probe, err)
	}
	return nil
}

// IsConnected implements remotekit.RemoteFileClient
func (c *Client) IsConnected() bool {
	return !c.closed.Load()
}

// Close implements remotekit.RemoteFileClient. Idempotent.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	watchers := c.watchers
	c.watchers = nil
	c.mu.Unlock()
	for _, w := range watchers {
		w.stop()
	}
	return nil
}

// ============================================================================
// Capabilities
// ============================================================================

// OpenReaderAt implements remotekit.CanOpenReaderAt
func (c *Client) OpenReaderAt(ctx context.Context, path string) (remotekit.ReaderAtCloser, error) {
	if err := c.check(ctx, "open", path); err != nil {
		return nil, err
	}
	f, err := os.Open(c.fullPath(path))
	if err != nil {
		return nil, mapOSError("open", path, err)
	}
	return f, nil
}

// OpenRange implements remotekit.CanOpenRange
func (c *Client) OpenRange(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	if err := c.check(ctx, "open", path); err != nil {
		return nil, err
	}
	f, err := os.Open(c.fullPath(path))
	if err != nil {
		return nil, mapOSError("open", path, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, mapOSError("open", path, err)
	}
	return f, nil
}

// Rename implements remotekit.CanRename
func (c *Client) Rename(ctx context.Context, oldpath, newpath string) error {
	if err := c.check(ctx, "rename", oldpath); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.fullPath(newpath)), 0o755); err != nil {
		return mapOSError("rename", newpath, err)
	}
	if err := os.Rename(c.fullPath(oldpath), c.fullPath(newpath)); err != nil {
		return mapOSError("rename", oldpath, err)
	}
	return nil
}

// check guards every operation with context and closed-state checks.
func (c *Client) check(ctx context.Context, op, path string) error {
	select {
	case <-ctx.Done():
		return remotekit.NewOpError(op, path, remotekit.KindIO, ctx.Err())
	default:
	}
	if c.closed.Load() {
		return remotekit.NewOpError(op, path, remotekit.KindIO, remotekit.ErrClosed)
	}
	return nil
}

// mapOSError maps os errors to remotekit errors
func mapOSError(op, path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return remotekit.NewOpError(op, path, remotekit.KindIO, remotekit.ErrNotExist)
	case os.IsPermission(err):
		return remotekit.NewOpError(op, path, remotekit.KindIO, remotekit.ErrPermission)
	default:
		return remotekit.NewOpError(op, path, remotekit.KindIO, err)
	}
}

// Ensure Client implements required and optional interfaces
var (
	_ remotekit.RemoteFileClient = (*Client)(nil)
	_ remotekit.CanOpenReaderAt  = (*Client)(nil)
	_ remotekit.CanOpenRange     = (*Client)(nil)
	_ remotekit.CanRename        = (*Client)(nil)
	_ remotekit.CanWatch         = (*Client)(nil)
)
