package remotekit

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
)

// ProgressByteInterval is the minimum number of transferred bytes between
// progress callbacks. Reporting tighter than this measurably degrades
// throughput, so the cadence is a hard floor, not a suggestion.
const ProgressByteInterval = 100 * 1024

// Progress is one progress report for an in-flight transfer. Total is 0
// when the source size is unknown.
type Progress struct {
	Transferred int64
	Total       int64
	BytesPerSec float64
}

// ProgressFunc receives progress reports at the ProgressByteInterval
// cadence. Transfers are cancellable only at these chunk boundaries, since
// the protocol clients expose blocking read/write primitives.
type ProgressFunc func(Progress)

// TransferRequest describes one copy or move.
type TransferRequest struct {
	Source      string
	Destination string
	Overwrite   bool
	Progress    ProgressFunc
}

// MoveResult reports the outcome of a move. A move whose copy phase
// succeeded but whose source delete failed is still a successful move of
// the bytes; SourceRemains flags that manual source cleanup is required
// rather than collapsing the outcome into one boolean.
type MoveResult struct {
	BytesMoved    int64
	SourceRemains bool
	CleanupErr    error
}

// TransferStrategy is a protocol-pair-specific implementation of
// copy/move/delete/exists, chosen by matching source and destination
// schemes.
type TransferStrategy interface {
	// Supports reports whether this strategy handles the scheme pair.
	Supports(srcScheme, dstScheme string) bool

	Copy(ctx context.Context, src, dst *RemoteURI, req TransferRequest) error
	Move(ctx context.Context, src, dst *RemoteURI, req TransferRequest) (*MoveResult, error)
	Delete(ctx context.Context, uri *RemoteURI) error
	Exists(ctx context.Context, uri *RemoteURI) (bool, error)
}

// strategyEnv is the shared plumbing every built-in strategy works with.
type strategyEnv struct {
	pool         *ConnPool
	cache        *FileCache
	log          *zap.Logger
	moveChecksum ChecksumAlgorithm
}

// Dispatcher routes copy/move/delete/exists requests to the first strategy
// whose Supports matches the (source scheme, destination scheme) pair. No
// match is a hard error.
type Dispatcher struct {
	env        *strategyEnv
	strategies []TransferStrategy
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the dispatcher's logger.
func WithDispatcherLogger(log *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.env.log = log }
}

// WithMoveChecksum upgrades cross-server move verification from the
// default byte-count match to a checksum comparison before the source is
// deleted. The stronger check costs a full read-back of the destination.
func WithMoveChecksum(alg ChecksumAlgorithm) DispatcherOption {
	return func(d *Dispatcher) { d.env.moveChecksum = alg }
}

// WithStrategy prepends a custom strategy, consulted before the built-in
// ones.
func WithStrategy(s TransferStrategy) DispatcherOption {
	return func(d *Dispatcher) {
		d.strategies = append([]TransferStrategy{s}, d.strategies...)
	}
}

// NewDispatcher creates a dispatcher drawing pooled connections from pool
// and de-duplicating downloads through cache. cache may be nil, in which
// case cross-protocol transfers stream through throwaway temp files
// instead.
func NewDispatcher(pool *ConnPool, cache *FileCache, opts ...DispatcherOption) *Dispatcher {
	env := &strategyEnv{pool: pool, cache: cache, log: zap.NewNop()}
	d := &Dispatcher{
		env: env,
		strategies: []TransferStrategy{
			&localStrategy{env: env},
			&downloadStrategy{env: env},
			&uploadStrategy{env: env},
			&remoteStrategy{env: env},
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Copy copies req.Source to req.Destination. With Overwrite false an
// existing destination fails the copy before any side effect; on success
// the destination content is byte-identical to the source.
func (d *Dispatcher) Copy(ctx context.Context, req TransferRequest) error {
	src, dst, s, err := d.route(req.Source, req.Destination)
	if err != nil {
		return err
	}
	return s.Copy(ctx, src, dst, req)
}

// Move moves req.Source to req.Destination, preferring server-side rename
// when both ends share a server, falling back to copy-then-delete-source.
// The source delete runs only after the copy is confirmed.
func (d *Dispatcher) Move(ctx context.Context, req TransferRequest) (*MoveResult, error) {
	src, dst, s, err := d.route(req.Source, req.Destination)
	if err != nil {
		return nil, err
	}
	return s.Move(ctx, src, dst, req)
}

// Delete removes the file at uri.
func (d *Dispatcher) Delete(ctx context.Context, uri string) error {
	u, _, s, err := d.route(uri, uri)
	if err != nil {
		return err
	}
	return s.Delete(ctx, u)
}

// Exists checks whether a file exists at uri.
func (d *Dispatcher) Exists(ctx context.Context, uri string) (bool, error) {
	u, _, s, err := d.route(uri, uri)
	if err != nil {
		return false, err
	}
	return s.Exists(ctx, u)
}

func (d *Dispatcher) route(source, destination string) (*RemoteURI, *RemoteURI, TransferStrategy, error) {
	src, err := ParseURI(source)
	if err != nil {
		return nil, nil, nil, err
	}
	dst, err := ParseURI(destination)
	if err != nil {
		return nil, nil, nil, err
	}

	for _, s := range d.strategies {
		if s.Supports(src.Scheme, dst.Scheme) {
			return src, dst, s, nil
		}
	}
	return nil, nil, nil, validationErr("dispatch", source,
		fmt.Errorf("%w: %s -> %s", ErrNoStrategy, src.Scheme, dst.Scheme))
}

// ============================================================================
// Progress tracking
// ============================================================================

// progressTracker throttles callbacks to the byte-interval cadence and
// computes instantaneous speed from the bytes moved since the last report.
type progressTracker struct {
	cb    ProgressFunc
	total int64

	n     int64
	lastN int64
	lastT time.Time
}

func newProgressTracker(total int64, cb ProgressFunc) *progressTracker {
	return &progressTracker{cb: cb, total: total, lastT: time.Now()}
}

func (t *progressTracker) add(n int) {
	t.n += int64(n)
	if t.cb == nil || t.n-t.lastN < ProgressByteInterval {
		return
	}
	t.report()
}

func (t *progressTracker) report() {
	now := time.Now()
	elapsed := now.Sub(t.lastT).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(t.n-t.lastN) / elapsed
	}
	t.cb(Progress{Transferred: t.n, Total: t.total, BytesPerSec: speed})
	t.lastN = t.n
	t.lastT = now
}

// finish emits the final report so the consumer always sees the completed
// byte count, including on cache hits where no network copy ran.
func (t *progressTracker) finish() {
	if t.cb == nil {
		return
	}
	if t.total > 0 {
		t.n = t.total
	}
	t.report()
}

// copyChunks copies src to dst in bounded chunks, feeding the tracker and
// honoring ctx between chunks. This is the cancellation granularity for
// every transfer: the underlying protocol primitives block, so the chunk
// boundary is the only place a cancel can be observed.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, t *progressTracker) (int64, error) {
	buf := make([]byte, 64*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			t.add(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// chunkReader adapts copyChunks semantics to APIs that consume an
// io.Reader (remote Write). It counts bytes into the tracker and aborts
// between reads when ctx is cancelled.
type chunkReader struct {
	ctx context.Context
	r   io.Reader
	t   *progressTracker
}

func (cr *chunkReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	n, err := cr.r.Read(p)
	cr.t.add(n)
	return n, err
}

// ============================================================================
// Shared strategy helpers
// ============================================================================

// acquireFor checks the pooled connection for the URI's endpoint out of the
// pool.
func (e *strategyEnv) acquireFor(ctx context.Context, u *RemoteURI) (RemoteFileClient, error) {
	pc, err := e.pool.Acquire(ctx, u.ConnectionInfo())
	if err != nil {
		return nil, err
	}
	return pc.Client(), nil
}

// deleteURI removes the file behind u, local or remote.
func (e *strategyEnv) deleteURI(ctx context.Context, u *RemoteURI) error {
	if u.IsLocal() {
		if err := os.Remove(u.Path); err != nil {
			if os.IsNotExist(err) {
				return ioErr("delete", u.Path, ErrNotExist)
			}
			return ioErr("delete", u.Path, err)
		}
		return nil
	}
	client, err := e.acquireFor(ctx, u)
	if err != nil {
		return err
	}
	return client.Delete(ctx, u.Path)
}

// existsURI checks for the file behind u, local or remote.
func (e *strategyEnv) existsURI(ctx context.Context, u *RemoteURI) (bool, error) {
	if u.IsLocal() {
		_, err := os.Stat(u.Path)
		if err == nil {
			return true, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, ioErr("exists", u.Path, err)
	}
	client, err := e.acquireFor(ctx, u)
	if err != nil {
		return false, err
	}
	return client.Exists(ctx, u.Path)
}

// downloadTo streams the remote file into destFile through a .part sibling
// so a failed download never leaves a plausible-looking destination.
func downloadTo(ctx context.Context, client RemoteFileClient, remotePath, destFile string, t *progressTracker) error {
	opener, ok := client.(CanOpenRange)
	if !ok {
		return protoErr("download", remotePath, ErrNotSupported)
	}
	stream, err := opener.OpenRange(ctx, remotePath, 0)
	if err != nil {
		return err
	}
	defer stream.Close()

	part := destFile + ".part"
	f, err := os.Create(part)
	if err != nil {
		return ioErr("download", part, err)
	}

	if _, err := copyChunks(ctx, f, stream, t); err != nil {
		f.Close()
		os.Remove(part)
		return ioErr("download", remotePath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return ioErr("download", part, err)
	}
	if err := os.Rename(part, destFile); err != nil {
		os.Remove(part)
		return ioErr("download", destFile, err)
	}
	return nil
}

// uploadFrom streams a local file to the remote path and confirms the
// remote byte count matches before reporting success. When the backend
// supports rename, the upload lands in a .part name first; otherwise a
// count mismatch removes the partial remote file.
func uploadFrom(ctx context.Context, client RemoteFileClient, localPath, remotePath string, t *progressTracker) error {
	fi, err := os.Stat(localPath)
	if err != nil {
		return ioErr("upload", localPath, err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return ioErr("upload", localPath, err)
	}
	defer f.Close()

	renamer, canRename := client.(CanRename)
	target := remotePath
	if canRename {
		target = remotePath + ".part"
	}

	if err := client.Write(ctx, target, &chunkReader{ctx: ctx, r: f, t: t}); err != nil {
		if canRename {
			_ = client.Delete(ctx, target)
		}
		return err
	}

	entry, err := client.Stat(ctx, target)
	if err != nil {
		return err
	}
	if entry.Size != fi.Size() {
		_ = client.Delete(ctx, target)
		return protoErr("upload", remotePath,
			fmt.Errorf("wrote %d bytes, expected %d", entry.Size, fi.Size()))
	}

	if canRename {
		if err := renamer.Rename(ctx, target, remotePath); err != nil {
			_ = client.Delete(ctx, target)
			return err
		}
	}
	return nil
}

// verifyRemoteChecksum streams the remote file through a hasher and
// compares against want. Only used when the dispatcher opted into checksum
// move verification.
func verifyRemoteChecksum(ctx context.Context, client RemoteFileClient, path, want string, alg ChecksumAlgorithm) error {
	opener, ok := client.(CanOpenRange)
	if !ok {
		return protoErr("verify", path, ErrNotSupported)
	}
	stream, err := opener.OpenRange(ctx, path, 0)
	if err != nil {
		return err
	}
	defer stream.Close()

	got, err := CalculateChecksum(stream, alg)
	if err != nil {
		return protoErr("verify", path, err)
	}
	if got != want {
		return protoErr("verify", path,
			fmt.Errorf("checksum mismatch: %s != %s", got, want))
	}
	return nil
}
