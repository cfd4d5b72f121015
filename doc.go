// Package remotekit provides unified network file access for Go: pooled
// protocol sessions, random-access reads for streaming playback,
// protocol-pair transfer dispatch, a shared on-disk download cache, and
// media scanning over heterogeneous storage backends.
//
// RemoteKit follows the driver model: every backend implements the same
// [RemoteFileClient] operation set and registers itself under a URI scheme.
//
//   - Local filesystem (github.com/gobeaver/remotekit/driver/local)
//   - SMB/CIFS shares (github.com/gobeaver/remotekit/driver/smb)
//   - SFTP (github.com/gobeaver/remotekit/driver/sftp)
//   - FTP (github.com/gobeaver/remotekit/driver/ftp)
//
// Importing a driver package makes its scheme dialable:
//
//	import _ "github.com/gobeaver/remotekit/driver/smb"
//
// # Connection Pool
//
// [ConnPool] caches one live authenticated session per (host, share) key,
// validating cached sessions on acquire and sweeping idle ones in the
// background:
//
//	pool := remotekit.NewConnPool(credStore)
//	defer pool.Shutdown()
//
//	pc, err := pool.Acquire(ctx, uri.ConnectionInfo())
//	entries, err := pc.Client().List(ctx, "/media")
//
// Pooled sessions are not internally synchronized; callers needing
// concurrent operations against one endpoint serialize them or dial a
// dedicated session.
//
// # Streaming Playback
//
// [NetworkReader] presents any remote file as a seekable byte source. It
// dials its own exclusive session on first read and preserves protocol
// asymmetry: random-access backends read at any offset through one handle,
// while forward-stream backends (FTP) reopen their stream on every
// non-contiguous seek.
//
//	r, err := remotekit.OpenReader("smb://nas/media/film.mkv", credStore)
//	defer r.Close()
//	n, err := r.ReadAt(ctx, buf, 1<<20)
//
// # Transfers
//
// [Dispatcher] routes copy/move/delete/exists to a strategy chosen by the
// (source scheme, destination scheme) pair. Same-server moves use the
// protocol rename; cross-server transfers stream through bounded local
// staging, never whole-file memory buffers; downloads de-duplicate through
// the shared [FileCache].
//
//	d := remotekit.NewDispatcher(pool, cache)
//	err := d.Copy(ctx, remotekit.TransferRequest{
//	    Source:      "sftp://host/inbox/a.mkv",
//	    Destination: "/library/a.mkv",
//	})
//
// # Capabilities
//
// Backends expose protocol-specific abilities through optional interfaces,
// checked by type assertion:
//
//	if r, ok := client.(remotekit.CanRename); ok {
//	    err := r.Rename(ctx, old, new)
//	}
package remotekit
