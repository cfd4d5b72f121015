// Package ftp provides an FTP implementation of remotekit.RemoteFileClient
// using github.com/jlaffaye/ftp. FTP carries one data channel per control
// connection, so the client does not implement CanOpenReaderAt; random
// access is served by reopening the retrieval stream at a new offset via
// REST, which CanOpenRange exposes.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"github.com/gobeaver/remotekit"
)

// errDataBusy reports that the single FTP data channel is tied up by an
// open transfer stream.
var errDataBusy = errors.New("data connection busy")

// Client implements remotekit.RemoteFileClient over FTP.
type Client struct {
	mu     sync.Mutex
	conn   *ftp.ServerConn
	cfg    remotekit.ClientConfig
	log    *zap.Logger
	closed bool

	// busy is set while a data transfer stream is open. The control
	// connection cannot serve other commands until the stream closes.
	busy atomic.Bool
}

// New dials the FTP server and logs in. Empty credentials fall back to
// anonymous login.
func New(cfg remotekit.ClientConfig) (*Client, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	port := cfg.Port
	if port == 0 {
		port = 21
	}
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", port))

	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(cfg.ConnectTimeout))
	if err != nil {
		return nil, mapDialError("connect", addr, err)
	}

	user, pass := "anonymous", "anonymous"
	if cfg.Credentials.Username != "" {
		user, pass = cfg.Credentials.Username, cfg.Credentials.Password
	}
	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, remotekit.NewOpError("connect", addr, remotekit.KindConnection, remotekit.ErrAuth)
	}

	log.Debug("ftp session established", zap.String("addr", addr), zap.String("user", user))
	return &Client{conn: conn, cfg: cfg, log: log}, nil
}

// control checks context, closed state, and the data channel before
// returning the control connection.
func (c *Client) control(ctx context.Context, op, filePath string) (*ftp.ServerConn, error) {
	select {
	case <-ctx.Done():
		return nil, remotekit.NewOpError(op, filePath, remotekit.KindIO, ctx.Err())
	default:
	}
	if c.busy.Load() {
		return nil, remotekit.NewOpError(op, filePath, remotekit.KindProtocol, errDataBusy)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return nil, remotekit.NewOpError(op, filePath, remotekit.KindConnection, remotekit.ErrClosed)
	}
	return c.conn, nil
}

// Scheme implements remotekit.RemoteFileClient
func (c *Client) Scheme() string { return remotekit.SchemeFTP }

// List implements remotekit.RemoteFileClient
func (c *Client) List(ctx context.Context, dir string) ([]remotekit.FileEntry, error) {
	conn, err := c.control(ctx, "list", dir)
	if err != nil {
		return nil, err
	}

	entries, err := conn.List(dir)
	if err != nil {
		return nil, mapFTPError("list", dir, err)
	}

	out := make([]remotekit.FileEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, remotekit.FileEntry{
			Name:    e.Name,
			Path:    path.Join(dir, e.Name),
			Size:    int64(e.Size),
			ModTime: e.Time,
			IsDir:   e.Type == ftp.EntryTypeFolder,
		})
	}
	return out, nil
}

// ReadRange implements remotekit.RemoteFileClient by opening a retrieval
// stream at the requested offset and closing it after the read.
func (c *Client) ReadRange(ctx context.Context, filePath string, offset int64, p []byte) (int, error) {
	rc, err := c.OpenRange(ctx, filePath, offset)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := io.ReadFull(rc, p)
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	if err == io.EOF {
		if n == 0 {
			return 0, io.EOF
		}
		err = nil
	}
	if err != nil {
		return n, mapFTPError("read", filePath, err)
	}
	return n, nil
}

// Write implements remotekit.RemoteFileClient
func (c *Client) Write(ctx context.Context, filePath string, r io.Reader) error {
	conn, err := c.control(ctx, "write", filePath)
	if err != nil {
		return err
	}

	if dir := path.Dir(filePath); dir != "." && dir != "/" {
		c.mkdirAll(conn, dir)
	}
	if err := conn.Stor(filePath, r); err != nil {
		return mapFTPError("write", filePath, err)
	}
	return nil
}

// Delete implements remotekit.RemoteFileClient
func (c *Client) Delete(ctx context.Context, filePath string) error {
	conn, err := c.control(ctx, "delete", filePath)
	if err != nil {
		return err
	}
	if err := conn.Delete(filePath); err != nil {
		return mapFTPError("delete", filePath, err)
	}
	return nil
}

// Mkdir implements remotekit.RemoteFileClient
func (c *Client) Mkdir(ctx context.Context, dirPath string) error {
	conn, err := c.control(ctx, "mkdir", dirPath)
	if err != nil {
		return err
	}
	c.mkdirAll(conn, dirPath)
	return nil
}

// mkdirAll creates each path segment in turn. MKD has no recursive form
// and fails on existing directories, so per-segment errors are ignored.
func (c *Client) mkdirAll(conn *ftp.ServerConn, dirPath string) {
	clean := path.Clean(dirPath)
	if clean == "." || clean == "/" {
		return
	}
	segments := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	cur := ""
	if strings.HasPrefix(clean, "/") {
		cur = "/"
	}
	for _, seg := range segments {
		cur = path.Join(cur, seg)
		_ = conn.MakeDir(cur)
	}
}

// Exists implements remotekit.RemoteFileClient
func (c *Client) Exists(ctx context.Context, filePath string) (bool, error) {
	entry, err := c.Stat(ctx, filePath)
	if err != nil {
		if errors.Is(err, remotekit.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return entry != nil, nil
}

// Stat implements remotekit.RemoteFileClient. FTP has no portable stat
// command, so the parent directory is listed and searched by name.
func (c *Client) Stat(ctx context.Context, filePath string) (*remotekit.FileEntry, error) {
	clean := path.Clean(filePath)
	if clean == "/" || clean == "." {
		return &remotekit.FileEntry{Name: "/", Path: "/", IsDir: true}, nil
	}

	conn, err := c.control(ctx, "stat", filePath)
	if err != nil {
		return nil, err
	}

	dir, name := path.Split(clean)
	if dir == "" {
		dir = "."
	}
	entries, err := conn.List(path.Clean(dir))
	if err != nil {
		return nil, mapFTPError("stat", filePath, err)
	}
	for _, e := range entries {
		if e.Name != name {
			continue
		}
		return &remotekit.FileEntry{
			Name:    e.Name,
			Path:    clean,
			Size:    int64(e.Size),
			ModTime: e.Time,
			IsDir:   e.Type == ftp.EntryTypeFolder,
		}, nil
	}
	return nil, remotekit.NewOpError("stat", filePath, remotekit.KindIO, remotekit.ErrNotExist)
}

// TestConnection implements remotekit.RemoteFileClient with a NOOP round
// trip.
func (c *Client) TestConnection(ctx context.Context) error {
	conn, err := c.control(ctx, "test", c.cfg.Endpoint())
	if err != nil {
		return err
	}
	if err := conn.NoOp(); err != nil {
		return remotekit.NewOpError("test", c.cfg.Endpoint(), remotekit.KindConnection, err)
	}
	return nil
}

// IsConnected implements remotekit.RemoteFileClient without network I/O;
// TestConnection does the actual NOOP round trip.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.conn != nil
}

// Close implements remotekit.RemoteFileClient. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	if c.conn != nil {
		err := c.conn.Quit()
		c.conn = nil
		if err != nil {
			return remotekit.NewOpError("close", c.cfg.Endpoint(), remotekit.KindConnection, err)
		}
	}
	return nil
}

// ============================================================================
// Optional Capability Interfaces
// ============================================================================

// OpenRange implements remotekit.CanOpenRange via RETR with a REST offset.
// The control connection is unusable until the returned stream is closed.
func (c *Client) OpenRange(ctx context.Context, filePath string, offset int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, remotekit.NewOpError("open", filePath, remotekit.KindValidation,
			fmt.Errorf("negative offset %d", offset))
	}
	conn, err := c.control(ctx, "open", filePath)
	if err != nil {
		return nil, err
	}

	// Claim the data channel before RETR goes out so two concurrent opens
	// cannot both pass the guard.
	if !c.busy.CompareAndSwap(false, true) {
		return nil, remotekit.NewOpError("open", filePath, remotekit.KindProtocol,
			errDataBusy)
	}

	resp, err := conn.RetrFrom(filePath, uint64(offset))
	if err != nil {
		c.busy.Store(false)
		return nil, mapFTPError("open", filePath, err)
	}
	return &transferStream{resp: resp, owner: c}, nil
}

// Rename implements remotekit.CanRename using RNFR/RNTO.
func (c *Client) Rename(ctx context.Context, oldPath, newPath string) error {
	conn, err := c.control(ctx, "rename", oldPath)
	if err != nil {
		return err
	}
	if dir := path.Dir(newPath); dir != "." && dir != "/" {
		c.mkdirAll(conn, dir)
	}
	if err := conn.Rename(oldPath, newPath); err != nil {
		return mapFTPError("rename", oldPath, err)
	}
	return nil
}

// transferStream releases the data channel when closed.
type transferStream struct {
	resp  *ftp.Response
	owner *Client
	once  sync.Once
}

func (s *transferStream) Read(p []byte) (int, error) {
	return s.resp.Read(p)
}

func (s *transferStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.resp.Close()
		s.owner.busy.Store(false)
	})
	return err
}

// mapDialError maps TCP dial failures to remotekit errors
func mapDialError(op, addr string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return remotekit.NewOpError(op, addr, remotekit.KindConnection, remotekit.ErrTimeout)
	}
	return remotekit.NewOpError(op, addr, remotekit.KindConnection, remotekit.ErrUnreachable)
}

// mapFTPError maps FTP reply codes to remotekit errors
func mapFTPError(op, filePath string, err error) error {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		switch proto.Code {
		case ftp.StatusFileUnavailable:
			// 550 covers both missing files and permission problems;
			// missing is by far the common case.
			if strings.Contains(strings.ToLower(proto.Msg), "denied") {
				return remotekit.NewOpError(op, filePath, remotekit.KindIO, remotekit.ErrPermission)
			}
			return remotekit.NewOpError(op, filePath, remotekit.KindIO, remotekit.ErrNotExist)
		case ftp.StatusNotLoggedIn:
			return remotekit.NewOpError(op, filePath, remotekit.KindConnection, remotekit.ErrAuth)
		case ftp.StatusNotAvailable:
			return remotekit.NewOpError(op, filePath, remotekit.KindConnection, err)
		}
		return remotekit.NewOpError(op, filePath, remotekit.KindProtocol, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return remotekit.NewOpError(op, filePath, remotekit.KindConnection, remotekit.ErrTimeout)
	}
	return remotekit.NewOpError(op, filePath, remotekit.KindIO, err)
}

// Ensure Client implements required and optional interfaces. CanOpenReaderAt
// is intentionally absent; see the package comment.
var (
	_ remotekit.RemoteFileClient = (*Client)(nil)
	_ remotekit.CanOpenRange     = (*Client)(nil)
	_ remotekit.CanRename        = (*Client)(nil)
)
