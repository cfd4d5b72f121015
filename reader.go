package remotekit

import (
	"bufio"
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
)

// NetworkReader presents one remote file as a seekable byte source without
// downloading it wholesale, for streaming media consumers.
//
// Each reader owns one exclusive session dialed on first read; it never
// borrows from a connection pool, because pooled sessions are not
// internally synchronized. Concurrent ReadAt calls on the same instance
// are unsupported; open separate readers for concurrent access, even to
// the same remote file.
//
// Protocol asymmetry is preserved, not hidden. Backends with true random
// access (SMB, SFTP, local) read directly at any offset through one open
// handle. Backends exposing only a forward stream (FTP) must tear down and
// reopen the stream whenever a non-contiguous offset is requested; a
// seek-heavy consumer pays one stream setup per jump on those protocols.
type NetworkReader struct {
	uri   *RemoteURI
	store CredentialStore
	hint  BufferSizeHint
	log   *zap.Logger

	client RemoteFileClient
	size   int64
	opened bool
	closed bool

	// random-access path
	ra ReaderAtCloser

	// sequential path
	stream    io.ReadCloser
	buf       *bufio.Reader
	streamPos int64
	bufSize   int
}

// ReaderOption configures a NetworkReader.
type ReaderOption func(*NetworkReader)

// WithBufferSizeHint sets the shared read-ahead size provider, queried once
// per Open.
func WithBufferSizeHint(h BufferSizeHint) ReaderOption {
	return func(r *NetworkReader) { r.hint = h }
}

// WithReaderLogger sets the reader's logger.
func WithReaderLogger(log *zap.Logger) ReaderOption {
	return func(r *NetworkReader) { r.log = log }
}

// OpenReader parses uri and prepares a reader. Credentials are resolved and
// the session dialed lazily on the first read, so Open itself performs no
// network I/O.
func OpenReader(uri string, store CredentialStore, opts ...ReaderOption) (*NetworkReader, error) {
	parsed, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	r := &NetworkReader{
		uri:   parsed,
		store: store,
		hint:  FixedBufferSize(DefaultReadBufferSize),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// NewReaderFromClient wraps an already-dialed client the caller owns
// exclusively. The reader takes ownership and closes it.
func NewReaderFromClient(client RemoteFileClient, path string, opts ...ReaderOption) *NetworkReader {
	r := &NetworkReader{
		uri:    &RemoteURI{Scheme: client.Scheme(), Path: path},
		client: client,
		hint:   FixedBufferSize(DefaultReadBufferSize),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ensureOpen dials the session, stats the file and queries the buffer hint.
func (r *NetworkReader) ensureOpen(ctx context.Context) error {
	if r.closed {
		return ioErr("read", r.uri.Path, ErrClosed)
	}
	if r.opened {
		return nil
	}

	if r.client == nil {
		creds, err := resolveCredentials(ctx, r.store, r.uri)
		if err != nil {
			return err
		}
		client, err := Dial(ClientConfig{
			Scheme:      r.uri.Scheme,
			Host:        r.uri.Host,
			Port:        r.uri.Port,
			Share:       r.uri.Share,
			Credentials: *creds,
			Logger:      r.log,
		})
		if err != nil {
			if IsValidationError(err) {
				return err
			}
			return connErr("open", r.uri.String(), err)
		}
		r.client = client
	}

	entry, err := r.client.Stat(ctx, r.uri.Path)
	if err != nil {
		return err
	}
	if entry.IsDir {
		return protoErr("open", r.uri.Path, ErrIsDir)
	}
	r.size = entry.Size
	r.bufSize = r.hint.RecommendedBufferSize(r.uri.Endpoint())
	if r.bufSize <= 0 {
		r.bufSize = DefaultReadBufferSize
	}
	r.opened = true

	return nil
}

// Size returns the remote file's total byte size, dialing if necessary.
func (r *NetworkReader) Size(ctx context.Context) (int64, error) {
	if err := r.ensureOpen(ctx); err != nil {
		return 0, err
	}
	return r.size, nil
}

// ReadAt fills p with bytes starting at off. It returns the count read,
// which is the full len(p) except near end of file, where the request is
// clamped so no byte past the total size is ever asked of the backend.
// A read at or past end of file returns (0, io.EOF).
func (r *NetworkReader) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := r.ensureOpen(ctx); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, validationErr("read", r.uri.Path, errors.New("negative offset"))
	}
	if off >= r.size {
		return 0, io.EOF
	}
	if max := r.size - off; int64(len(p)) > max {
		p = p[:max]
	}
	if len(p) == 0 {
		return 0, nil
	}

	if ra, ok := r.randomAccess(ctx); ok {
		n, err := ra.ReadAt(p, off)
		if err == io.EOF && n == len(p) {
			err = nil
		}
		return n, err
	}

	return r.sequentialRead(ctx, p, off)
}

// randomAccess returns the open random-access handle, opening one when the
// backend supports it.
func (r *NetworkReader) randomAccess(ctx context.Context) (ReaderAtCloser, bool) {
	if r.ra != nil {
		return r.ra, true
	}
	opener, ok := r.client.(CanOpenReaderAt)
	if !ok {
		return nil, false
	}
	ra, err := opener.OpenReaderAt(ctx, r.uri.Path)
	if err != nil {
		// Degrade to the sequential path; the error will resurface there
		// if the file is genuinely unreadable.
		r.log.Debug("random-access open failed, using stream",
			zap.String("path", r.uri.Path), zap.Error(err))
		return nil, false
	}
	r.ra = ra
	return ra, true
}

// sequentialRead serves a read through the forward stream, reopening it at
// off when the requested offset is not where the stream currently sits.
func (r *NetworkReader) sequentialRead(ctx context.Context, p []byte, off int64) (int, error) {
	if r.stream == nil || r.streamPos != off {
		if err := r.reopenStream(ctx, off); err != nil {
			return 0, err
		}
	}

	n, err := io.ReadFull(r.buf, p)
	r.streamPos += int64(n)
	if err == io.ErrUnexpectedEOF || (err == io.EOF && n > 0) {
		err = nil
	}
	return n, err
}

func (r *NetworkReader) reopenStream(ctx context.Context, off int64) error {
	if r.stream != nil {
		if err := r.stream.Close(); err != nil {
			r.log.Debug("stream close before reopen", zap.Error(err))
		}
		r.stream = nil
	}

	opener, ok := r.client.(CanOpenRange)
	if !ok {
		return protoErr("read", r.uri.Path, ErrNotSupported)
	}
	stream, err := opener.OpenRange(ctx, r.uri.Path, off)
	if err != nil {
		return err
	}
	r.stream = stream
	r.buf = bufio.NewReaderSize(stream, r.bufSize)
	r.streamPos = off
	return nil
}

// Close tears down stream, then handle, then session, in that order. Each
// step's failure is logged and does not stop the next. Close is idempotent
// and never panics.
func (r *NetworkReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	if r.stream != nil {
		if err := r.stream.Close(); err != nil {
			r.log.Debug("reader stream close", zap.Error(err))
		}
		r.stream = nil
	}
	if r.ra != nil {
		if err := r.ra.Close(); err != nil {
			r.log.Debug("reader handle close", zap.Error(err))
		}
		r.ra = nil
	}
	if r.client != nil {
		if err := r.client.Close(); err != nil {
			r.log.Debug("reader session close", zap.Error(err))
		}
		r.client = nil
	}
	return nil
}
