// Package smb provides an SMB2/3 implementation of remotekit.RemoteFileClient
// using github.com/hirochachacha/go-smb2. A client owns one TCP connection,
// one authenticated session, and one mounted share; SMB multiplexes requests
// over the connection, so open handles support concurrent positioned reads.
package smb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/hirochachacha/go-smb2"
	"go.uber.org/zap"

	"github.com/gobeaver/remotekit"
)

// Client implements remotekit.RemoteFileClient over SMB.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	session *smb2.Session
	share   *smb2.Share
	cfg     remotekit.ClientConfig
	log     *zap.Logger
	closed  bool
}

// New dials the server, authenticates with NTLM, and mounts the share
// named in cfg.Share.
func New(cfg remotekit.ClientConfig) (*Client, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Share == "" {
		return nil, remotekit.NewOpError("connect", cfg.Endpoint(), remotekit.KindValidation,
			fmt.Errorf("smb requires a share name"))
	}

	c := &Client{cfg: cfg, log: log}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// connect establishes the TCP connection, SMB session, and share mount
func (c *Client) connect() error {
	creds := c.cfg.Credentials

	port := c.cfg.Port
	if port == 0 {
		port = 445
	}
	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", port))

	conn, err := net.DialTimeout("tcp", addr, c.cfg.ConnectTimeout)
	if err != nil {
		return mapDialError("connect", addr, err)
	}

	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     creds.Username,
			Password: creds.Password,
			Domain:   creds.Domain,
		},
	}

	session, err := dialer.Dial(conn)
	if err != nil {
		conn.Close()
		if isAccessDenied(err) {
			return remotekit.NewOpError("connect", addr, remotekit.KindConnection, remotekit.ErrAuth)
		}
		return remotekit.NewOpError("connect", addr, remotekit.KindConnection, err)
	}

	share, err := session.Mount(c.cfg.Share)
	if err != nil {
		session.Logoff()
		conn.Close()
		return mapSMBError("connect", c.cfg.Share, err)
	}

	c.conn = conn
	c.session = session
	c.share = share
	c.log.Debug("smb share mounted",
		zap.String("addr", addr),
		zap.String("share", c.cfg.Share),
		zap.String("user", creds.Username))
	return nil
}

// mount checks context and closed state and returns the live share.
func (c *Client) mount(ctx context.Context, op, filePath string) (*smb2.Share, error) {
	select {
	case <-ctx.Done():
		return nil, remotekit.NewOpError(op, filePath, remotekit.KindIO, ctx.Err())
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.share == nil {
		return nil, remotekit.NewOpError(op, filePath, remotekit.KindConnection, remotekit.ErrClosed)
	}
	return c.share, nil
}

// Scheme implements remotekit.RemoteFileClient
func (c *Client) Scheme() string { return remotekit.SchemeSMB }

// toSharePath converts a slash path to the backslash form SMB expects.
func toSharePath(p string) string {
	p = strings.TrimPrefix(path.Clean(p), "/")
	if p == "." {
		p = ""
	}
	return strings.ReplaceAll(p, "/", `\`)
}

// List implements remotekit.RemoteFileClient
func (c *Client) List(ctx context.Context, dir string) ([]remotekit.FileEntry, error) {
	share, err := c.mount(ctx, "list", dir)
	if err != nil {
		return nil, err
	}

	entries, err := share.ReadDir(toSharePath(dir))
	if err != nil {
		return nil, mapSMBError("list", dir, err)
	}

	out := make([]remotekit.FileEntry, 0, len(entries))
	for _, info := range entries {
		out = append(out, remotekit.FileEntry{
			Name:    info.Name(),
			Path:    path.Join(dir, info.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   info.IsDir(),
		})
	}
	return out, nil
}

// ReadRange implements remotekit.RemoteFileClient
func (c *Client) ReadRange(ctx context.Context, filePath string, offset int64, p []byte) (int, error) {
	ra, err := c.OpenReaderAt(ctx, filePath)
	if err != nil {
		return 0, err
	}
	defer ra.Close()

	n, err := ra.ReadAt(p, offset)
	if err == io.EOF {
		if n == 0 {
			return 0, io.EOF
		}
		err = nil
	}
	if err != nil {
		return n, mapSMBError("read", filePath, err)
	}
	return n, nil
}

// Write implements remotekit.RemoteFileClient
func (c *Client) Write(ctx context.Context, filePath string, r io.Reader) error {
	share, err := c.mount(ctx, "write", filePath)
	if err != nil {
		return err
	}

	sp := toSharePath(filePath)
	if dir := path.Dir(filePath); dir != "." && dir != "/" {
		if err := share.MkdirAll(toSharePath(dir), 0o755); err != nil {
			return mapSMBError("write", filePath, err)
		}
	}

	f, err := share.Create(sp)
	if err != nil {
		return mapSMBError("write", filePath, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		share.Remove(sp)
		return mapSMBError("write", filePath, err)
	}
	if err := f.Close(); err != nil {
		return mapSMBError("write", filePath, err)
	}
	return nil
}

// Delete implements remotekit.RemoteFileClient
func (c *Client) Delete(ctx context.Context, filePath string) error {
	share, err := c.mount(ctx, "delete", filePath)
	if err != nil {
		return err
	}
	if err := share.Remove(toSharePath(filePath)); err != nil {
		return mapSMBError("delete", filePath, err)
	}
	return nil
}

// Mkdir implements remotekit.RemoteFileClient
func (c *Client) Mkdir(ctx context.Context, dirPath string) error {
	share, err := c.mount(ctx, "mkdir", dirPath)
	if err != nil {
		return err
	}
	if err := share.MkdirAll(toSharePath(dirPath), 0o755); err != nil {
		return mapSMBError("mkdir", dirPath, err)
	}
	return nil
}

// Exists implements remotekit.RemoteFileClient
func (c *Client) Exists(ctx context.Context, filePath string) (bool, error) {
	share, err := c.mount(ctx, "exists", filePath)
	if err != nil {
		return false, err
	}
	_, err = share.Stat(toSharePath(filePath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, mapSMBError("exists", filePath, err)
}

// Stat implements remotekit.RemoteFileClient
func (c *Client) Stat(ctx context.Context, filePath string) (*remotekit.FileEntry, error) {
	share, err := c.mount(ctx, "stat", filePath)
	if err != nil {
		return nil, err
	}

	info, err := share.Stat(toSharePath(filePath))
	if err != nil {
		return nil, mapSMBError("stat", filePath, err)
	}
	return &remotekit.FileEntry{
		Name:    path.Base(filePath),
		Path:    filePath,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

// TestConnection implements remotekit.RemoteFileClient by statting the
// share root.
func (c *Client) TestConnection(ctx context.Context) error {
	share, err := c.mount(ctx, "test", c.cfg.Endpoint())
	if err != nil {
		return err
	}
	if _, err := share.Stat("."); err != nil {
		return remotekit.NewOpError("test", c.cfg.Endpoint(), remotekit.KindConnection, err)
	}
	return nil
}

// IsConnected implements remotekit.RemoteFileClient without network I/O;
// TestConnection does the actual round trip.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.share != nil
}

// Close implements remotekit.RemoteFileClient. Teardown order is share
// unmount, session logoff, then the TCP connection. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.share != nil {
		if err := c.share.Umount(); err != nil {
			errs = append(errs, err)
		}
		c.share = nil
	}
	if c.session != nil {
		if err := c.session.Logoff(); err != nil {
			errs = append(errs, err)
		}
		c.session = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		c.conn = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}
	return nil
}

// ============================================================================
// Optional Capability Interfaces
// ============================================================================

// OpenReaderAt implements remotekit.CanOpenReaderAt
func (c *Client) OpenReaderAt(ctx context.Context, filePath string) (remotekit.ReaderAtCloser, error) {
	share, err := c.mount(ctx, "open", filePath)
	if err != nil {
		return nil, err
	}
	f, err := share.Open(toSharePath(filePath))
	if err != nil {
		return nil, mapSMBError("open", filePath, err)
	}
	return f, nil
}

// OpenRange implements remotekit.CanOpenRange
func (c *Client) OpenRange(ctx context.Context, filePath string, offset int64) (io.ReadCloser, error) {
	share, err := c.mount(ctx, "open", filePath)
	if err != nil {
		return nil, err
	}
	f, err := share.Open(toSharePath(filePath))
	if err != nil {
		return nil, mapSMBError("open", filePath, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, mapSMBError("open", filePath, err)
	}
	return f, nil
}

// Rename implements remotekit.CanRename using SMB's native rename.
func (c *Client) Rename(ctx context.Context, oldPath, newPath string) error {
	share, err := c.mount(ctx, "rename", oldPath)
	if err != nil {
		return err
	}
	if dir := path.Dir(newPath); dir != "." && dir != "/" {
		if err := share.MkdirAll(toSharePath(dir), 0o755); err != nil {
			return mapSMBError("rename", newPath, err)
		}
	}
	if err := share.Rename(toSharePath(oldPath), toSharePath(newPath)); err != nil {
		return mapSMBError("rename", oldPath, err)
	}
	return nil
}

// mapDialError maps TCP dial failures to remotekit errors
func mapDialError(op, addr string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return remotekit.NewOpError(op, addr, remotekit.KindConnection, remotekit.ErrTimeout)
	}
	return remotekit.NewOpError(op, addr, remotekit.KindConnection, remotekit.ErrUnreachable)
}

func isAccessDenied(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "logon failure") || strings.Contains(msg, "access denied")
}

// mapSMBError maps go-smb2 errors to remotekit errors
func mapSMBError(op, filePath string, err error) error {
	switch {
	case os.IsNotExist(err):
		return remotekit.NewOpError(op, filePath, remotekit.KindIO, remotekit.ErrNotExist)
	case os.IsPermission(err):
		return remotekit.NewOpError(op, filePath, remotekit.KindIO, remotekit.ErrPermission)
	case os.IsTimeout(err):
		return remotekit.NewOpError(op, filePath, remotekit.KindConnection, remotekit.ErrTimeout)
	default:
		return remotekit.NewOpError(op, filePath, remotekit.KindProtocol, err)
	}
}

// Ensure Client implements required and optional interfaces
var (
	_ remotekit.RemoteFileClient = (*Client)(nil)
	_ remotekit.CanOpenReaderAt  = (*Client)(nil)
	_ remotekit.CanOpenRange     = (*Client)(nil)
	_ remotekit.CanRename        = (*Client)(nil)
)
