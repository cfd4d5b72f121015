// Package sftp provides an SFTP implementation of remotekit.RemoteFileClient
// on top of github.com/pkg/sftp over an SSH transport. SFTP handles support
// concurrent positioned reads, so the client exposes OpenReaderAt and one
// session can serve several readers at once.
package sftp

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

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/gobeaver/remotekit"
)

// Client implements remotekit.RemoteFileClient over SFTP.
type Client struct {
	mu      sync.Mutex
	client  *sftp.Client
	sshConn *ssh.Client
	cfg     remotekit.ClientConfig
	log     *zap.Logger
	closed  bool
}

// New dials the SSH server and opens an SFTP session. Password and
// private-key auth are both attempted when configured.
func New(cfg remotekit.ClientConfig) (*Client, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	c := &Client{cfg: cfg, log: log}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// connect establishes the SSH and SFTP connections
func (c *Client) connect() error {
	creds := c.cfg.Credentials

	sshConfig := &ssh.ClientConfig{
		User:            creds.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: known_hosts support
		Timeout:         c.cfg.ConnectTimeout,
	}

	if len(creds.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(creds.PrivateKey)
		if err != nil {
			return remotekit.NewOpError("connect", c.cfg.Endpoint(), remotekit.KindConnection,
				fmt.Errorf("parse private key: %w", err))
		}
		sshConfig.Auth = append(sshConfig.Auth, ssh.PublicKeys(signer))
	}
	if creds.Password != "" {
		sshConfig.Auth = append(sshConfig.Auth, ssh.Password(creds.Password))
	}
	if len(sshConfig.Auth) == 0 {
		return remotekit.NewOpError("connect", c.cfg.Endpoint(), remotekit.KindValidation, remotekit.ErrNoCredentials)
	}

	port := c.cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", port))

	sshConn, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return mapDialError("connect", addr, err)
	}

	sftpClient, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return remotekit.NewOpError("connect", addr, remotekit.KindProtocol, err)
	}

	c.sshConn = sshConn
	c.client = sftpClient
	c.log.Debug("sftp session established", zap.String("addr", addr), zap.String("user", creds.Username))
	return nil
}

// session checks context and closed state and returns the live client.
func (c *Client) session(ctx context.Context, op, path string) (*sftp.Client, error) {
	select {
	case <-ctx.Done():
		return nil, remotekit.NewOpError(op, path, remotekit.KindIO, ctx.Err())
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.client == nil {
		return nil, remotekit.NewOpError(op, path, remotekit.KindConnection, remotekit.ErrClosed)
	}
	return c.client, nil
}

// Scheme implements remotekit.RemoteFileClient
func (c *Client) Scheme() string { return remotekit.SchemeSFTP }

// List implements remotekit.RemoteFileClient
func (c *Client) List(ctx context.Context, dir string) ([]remotekit.FileEntry, error) {
	sess, err := c.session(ctx, "list", dir)
	if err != nil {
		return nil, err
	}

	entries, err := sess.ReadDir(dir)
	if err != nil {
		return nil, mapSFTPError("list", dir, err)
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
		return n, mapSFTPError("read", filePath, err)
	}
	return n, nil
}

// Write implements remotekit.RemoteFileClient
func (c *Client) Write(ctx context.Context, filePath string, r io.Reader) error {
	sess, err := c.session(ctx, "write", filePath)
	if err != nil {
		return err
	}

	if dir := path.Dir(filePath); dir != "." && dir != "/" {
		if err := sess.MkdirAll(dir); err != nil {
			return mapSFTPError("write", filePath, err)
		}
	}

	f, err := sess.Create(filePath)
	if err != nil {
		return mapSFTPError("write", filePath, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		sess.Remove(filePath)
		return mapSFTPError("write", filePath, err)
	}
	if err := f.Close(); err != nil {
		return mapSFTPError("write", filePath, err)
	}
	return nil
}

// Delete implements remotekit.RemoteFileClient
func (c *Client) Delete(ctx context.Context, filePath string) error {
	sess, err := c.session(ctx, "delete", filePath)
	if err != nil {
		return err
	}
	if err := sess.Remove(filePath); err != nil {
		return mapSFTPError("delete", filePath, err)
	}
	return nil
}

// Mkdir implements remotekit.RemoteFileClient
func (c *Client) Mkdir(ctx context.Context, dirPath string) error {
	sess, err := c.session(ctx, "mkdir", dirPath)
	if err != nil {
		return err
	}
	if err := sess.MkdirAll(dirPath); err != nil {
		return mapSFTPError("mkdir", dirPath, err)
	}
	return nil
}

// Exists implements remotekit.RemoteFileClient
func (c *Client) Exists(ctx context.Context, filePath string) (bool, error) {
	sess, err := c.session(ctx, "exists", filePath)
	if err != nil {
		return false, err
	}
	_, err = sess.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, mapSFTPError("exists", filePath, err)
}

// Stat implements remotekit.RemoteFileClient
func (c *Client) Stat(ctx context.Context, filePath string) (*remotekit.FileEntry, error) {
	sess, err := c.session(ctx, "stat", filePath)
	if err != nil {
		return nil, err
	}

	info, err := sess.Stat(filePath)
	if err != nil {
		return nil, mapSFTPError("stat", filePath, err)
	}
	return &remotekit.FileEntry{
		Name:    path.Base(filePath),
		Path:    filePath,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

// TestConnection implements remotekit.RemoteFileClient. A Getwd round trip
// exercises the session without touching any file.
func (c *Client) TestConnection(ctx context.Context) error {
	sess, err := c.session(ctx, "test", c.cfg.Endpoint())
	if err != nil {
		return err
	}
	if _, err := sess.Getwd(); err != nil {
		return remotekit.NewOpError("test", c.cfg.Endpoint(), remotekit.KindConnection, err)
	}
	return nil
}

// IsConnected implements remotekit.RemoteFileClient without network I/O;
// TestConnection does the actual round trip.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.client != nil
}

// Close implements remotekit.RemoteFileClient. SFTP session first, then
// the SSH transport under it. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			errs = append(errs, err)
		}
		c.client = nil
	}
	if c.sshConn != nil {
		if err := c.sshConn.Close(); err != nil {
			errs = append(errs, err)
		}
		c.sshConn = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}
	return nil
}

// ============================================================================
// Optional Capability Interfaces
// ============================================================================

// OpenReaderAt implements remotekit.CanOpenReaderAt. The returned handle
// supports positioned reads without disturbing other handles on the same
// session.
func (c *Client) OpenReaderAt(ctx context.Context, filePath string) (remotekit.ReaderAtCloser, error) {
	sess, err := c.session(ctx, "open", filePath)
	if err != nil {
		return nil, err
	}
	f, err := sess.Open(filePath)
	if err != nil {
		return nil, mapSFTPError("open", filePath, err)
	}
	return f, nil
}

// OpenRange implements remotekit.CanOpenRange
func (c *Client) OpenRange(ctx context.Context, filePath string, offset int64) (io.ReadCloser, error) {
	sess, err := c.session(ctx, "open", filePath)
	if err != nil {
		return nil, err
	}
	f, err := sess.Open(filePath)
	if err != nil {
		return nil, mapSFTPError("open", filePath, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, mapSFTPError("open", filePath, err)
	}
	return f, nil
}

// Rename implements remotekit.CanRename using SFTP's native rename.
func (c *Client) Rename(ctx context.Context, oldPath, newPath string) error {
	sess, err := c.session(ctx, "rename", oldPath)
	if err != nil {
		return err
	}
	if dir := path.Dir(newPath); dir != "." && dir != "/" {
		if err := sess.MkdirAll(dir); err != nil {
			return mapSFTPError("rename", newPath, err)
		}
	}
	if err := sess.Rename(oldPath, newPath); err != nil {
		return mapSFTPError("rename", oldPath, err)
	}
	return nil
}

// mapDialError maps SSH dial failures to remotekit errors
func mapDialError(op, addr string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return remotekit.NewOpError(op, addr, remotekit.KindConnection, remotekit.ErrTimeout)
	}
	if isAuthError(err) {
		return remotekit.NewOpError(op, addr, remotekit.KindConnection, remotekit.ErrAuth)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return remotekit.NewOpError(op, addr, remotekit.KindConnection, remotekit.ErrUnreachable)
	}
	return remotekit.NewOpError(op, addr, remotekit.KindConnection, err)
}

func isAuthError(err error) bool {
	// ssh surfaces handshake auth failures only as a string
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "permission denied")
}

// mapSFTPError maps SFTP errors to remotekit errors
func mapSFTPError(op, filePath string, err error) error {
	switch {
	case os.IsNotExist(err):
		return remotekit.NewOpError(op, filePath, remotekit.KindIO, remotekit.ErrNotExist)
	case os.IsPermission(err):
		return remotekit.NewOpError(op, filePath, remotekit.KindIO, remotekit.ErrPermission)
	case errors.Is(err, sftp.ErrSSHFxConnectionLost):
		return remotekit.NewOpError(op, filePath, remotekit.KindConnection, err)
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
