package remotekit

import (
	"context"
	"io"
	"time"
)

// FileEntry represents file/directory metadata returned by listing operations
type FileEntry struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// ============================================================================
// Core Interface
// ============================================================================

// RemoteFileClient is the uniform operation set every protocol backend
// implements. One client wraps one authenticated session against one
// endpoint; the session is not internally synchronized, so callers that need
// concurrent operations must serialize them or obtain separate clients.
//
// No method panics across this boundary; failures are returned as *OpError
// values carrying the operation, path, error kind and original cause.
type RemoteFileClient interface {
	// Scheme returns the URI scheme this client serves ("smb", "sftp", ...).
	Scheme() string

	// List returns the immediate children of dir.
	List(ctx context.Context, dir string) ([]FileEntry, error)

	// ReadRange reads up to len(p) bytes starting at offset and returns the
	// exact count read. The count may be less than len(p) at end of file;
	// a read at or past end of file returns (0, io.EOF).
	ReadRange(ctx context.Context, path string, offset int64, p []byte) (int, error)

	// Write streams content from r to path, creating parent directories
	// as needed.
	Write(ctx context.Context, path string, r io.Reader) error

	// Delete removes a file.
	Delete(ctx context.Context, path string) error

	// Mkdir creates a directory and any missing parents.
	Mkdir(ctx context.Context, path string) error

	// Exists checks whether a file or directory exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Stat returns metadata for the file or directory at path.
	Stat(ctx context.Context, path string) (*FileEntry, error)

	// TestConnection verifies the session is usable by issuing a cheap
	// remote round trip.
	TestConnection(ctx context.Context) error

	// IsConnected reports whether the underlying transport still appears
	// connected. It never performs network I/O.
	IsConnected() bool

	// Close tears the session down: open handles first, then the protocol
	// session, then the transport. Close is idempotent.
	Close() error
}

// ============================================================================
// Optional Capability Interfaces
// ============================================================================
// Backends expose protocol-specific abilities through capability interfaces.
// Use type assertion to check for support:
//
//	if r, ok := client.(CanRename); ok {
//	    r.Rename(ctx, src, dst)
//	}

// ReaderAtCloser is a random-access read handle on a remote file.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

// CanOpenReaderAt indicates the backend supports true random-access reads.
// SMB, SFTP and the local driver implement it. FTP does not: its data
// channel is a forward-only stream.
type CanOpenReaderAt interface {
	OpenReaderAt(ctx context.Context, path string) (ReaderAtCloser, error)
}

// CanOpenRange indicates the backend can open a forward read stream
// positioned at an arbitrary offset. All drivers implement it; for
// sequential protocols this is the only way to reach an offset, and
// reaching a new non-contiguous offset means opening a new stream.
type CanOpenRange interface {
	OpenRange(ctx context.Context, path string, offset int64) (io.ReadCloser, error)
}

// CanRename indicates the backend supports server-side rename. Same-server
// moves prefer this over a read+write round trip.
type CanRename interface {
	Rename(ctx context.Context, oldpath, newpath string) error
}

// CanWatch indicates the backend supports file change notifications.
// Only backends with native filesystem events implement it.
type CanWatch interface {
	// Watch creates a change token signalled when any file matching the
	// glob pattern is created, modified, or deleted.
	Watch(ctx context.Context, pattern string) (ChangeToken, error)
}
