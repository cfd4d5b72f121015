package remotekit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"testing"
	"time"
)

// testDialer is the factory behind every remote scheme in tests. Tests
// install their own with setDialer.
var testDialer func(cfg ClientConfig) (RemoteFileClient, error)

func init() {
	for _, scheme := range []string{SchemeSMB, SchemeSFTP, SchemeFTP} {
		RegisterDriver(scheme, func(cfg ClientConfig) (RemoteFileClient, error) {
			if testDialer == nil {
				return nil, errors.New("no test dialer installed")
			}
			return testDialer(cfg)
		})
	}
}

func setDialer(t *testing.T, fn func(cfg ClientConfig) (RemoteFileClient, error)) {
	t.Helper()
	prev := testDialer
	testDialer = fn
	t.Cleanup(func() { testDialer = prev })
}

// mockClient is an in-memory RemoteFileClient. It implements CanOpenRange
// and CanRename; wrap it in mockRandomClient for CanOpenReaderAt.
type mockClient struct {
	scheme string

	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool

	connected bool
	closed    bool
	modTime   time.Time

	writeErr      error
	deleteErr     error
	listErr       map[string]error
	writeTruncate int // when >0, Write keeps only this many bytes

	openRangeCalls int
	renameCalled   bool
}

func newMockClient(scheme string) *mockClient {
	return &mockClient{
		scheme:    scheme,
		files:     make(map[string][]byte),
		dirs:      map[string]bool{"/": true},
		connected: true,
		modTime:   time.Now(),
		listErr:   make(map[string]error),
	}
}

func (m *mockClient) addFile(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	m.files[p] = data
	for dir := path.Dir(p); ; dir = path.Dir(dir) {
		m.dirs[dir] = true
		if dir == "/" || dir == "." {
			break
		}
	}
}

func (m *mockClient) addDir(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[path.Clean(p)] = true
}

func (m *mockClient) Scheme() string { return m.scheme }

func (m *mockClient) List(ctx context.Context, dir string) ([]FileEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir = path.Clean(dir)
	if err := m.listErr[dir]; err != nil {
		return nil, err
	}
	if !m.dirs[dir] {
		return nil, ioErr("list", dir, ErrNotExist)
	}

	var out []FileEntry
	for p, data := range m.files {
		if path.Dir(p) == dir {
			out = append(out, FileEntry{
				Name: path.Base(p), Path: p,
				Size: int64(len(data)), ModTime: m.modTime,
			})
		}
	}
	for p := range m.dirs {
		if p != dir && path.Dir(p) == dir {
			out = append(out, FileEntry{
				Name: path.Base(p), Path: p,
				ModTime: m.modTime, IsDir: true,
			})
		}
	}
	return out, nil
}

func (m *mockClient) ReadRange(ctx context.Context, p string, offset int64, buf []byte) (int, error) {
	m.mu.Lock()
	data, ok := m.files[path.Clean(p)]
	m.mu.Unlock()
	if !ok {
		return 0, ioErr("read", p, ErrNotExist)
	}
	if offset >= int64(len(data)) {
		return 0, io.EOF
	}
	return copy(buf, data[offset:]), nil
}

func (m *mockClient) Write(ctx context.Context, p string, r io.Reader) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if m.writeTruncate > 0 && len(data) > m.writeTruncate {
		data = data[:m.writeTruncate]
	}
	m.addFile(p, data)
	return nil
}

func (m *mockClient) Delete(ctx context.Context, p string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	if _, ok := m.files[p]; !ok {
		return ioErr("delete", p, ErrNotExist)
	}
	delete(m.files, p)
	return nil
}

func (m *mockClient) Mkdir(ctx context.Context, p string) error {
	m.addDir(p)
	return nil
}

func (m *mockClient) Exists(ctx context.Context, p string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	if _, ok := m.files[p]; ok {
		return true, nil
	}
	return m.dirs[p], nil
}

func (m *mockClient) Stat(ctx context.Context, p string) (*FileEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	if data, ok := m.files[p]; ok {
		return &FileEntry{
			Name: path.Base(p), Path: p,
			Size: int64(len(data)), ModTime: m.modTime,
		}, nil
	}
	if m.dirs[p] {
		return &FileEntry{Name: path.Base(p), Path: p, ModTime: m.modTime, IsDir: true}, nil
	}
	return nil, ioErr("stat", p, ErrNotExist)
}

func (m *mockClient) TestConnection(ctx context.Context) error {
	if !m.connected {
		return connErr("test", "", ErrUnreachable)
	}
	return nil
}

func (m *mockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected && !m.closed
}

func (m *mockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockClient) OpenRange(ctx context.Context, p string, offset int64) (io.ReadCloser, error) {
	m.mu.Lock()
	data, ok := m.files[path.Clean(p)]
	m.mu.Unlock()
	if !ok {
		return nil, ioErr("open", p, ErrNotExist)
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	m.mu.Lock()
	m.openRangeCalls++
	m.mu.Unlock()
	return io.NopCloser(bytes.NewReader(data[offset:])), nil
}

func (m *mockClient) Rename(ctx context.Context, oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renameCalled = true
	oldPath, newPath = path.Clean(oldPath), path.Clean(newPath)
	data, ok := m.files[oldPath]
	if !ok {
		return ioErr("rename", oldPath, ErrNotExist)
	}
	m.files[newPath] = data
	delete(m.files, oldPath)
	return nil
}

var (
	_ RemoteFileClient = (*mockClient)(nil)
	_ CanOpenRange     = (*mockClient)(nil)
	_ CanRename        = (*mockClient)(nil)
)

// mockRandomClient adds random-access handles, like the SMB and SFTP
// drivers.
type mockRandomClient struct {
	*mockClient
	openReaderAtCalls int
}

type mockHandle struct {
	*bytes.Reader
	closed *bool
}

func (h *mockHandle) Close() error {
	*h.closed = true
	return nil
}

func (m *mockRandomClient) OpenReaderAt(ctx context.Context, p string) (ReaderAtCloser, error) {
	m.mu.Lock()
	data, ok := m.files[path.Clean(p)]
	m.mu.Unlock()
	if !ok {
		return nil, ioErr("open", p, ErrNotExist)
	}
	m.openReaderAtCalls++
	closed := false
	return &mockHandle{Reader: bytes.NewReader(data), closed: &closed}, nil
}

var _ CanOpenReaderAt = (*mockRandomClient)(nil)

// mockStreamOnlyClient multiplexes reads but has no server-side rename,
// like a backend whose protocol lacks a move primitive. The shadowing
// method hides the embedded Rename so the CanRename assertion fails.
type mockStreamOnlyClient struct {
	*mockRandomClient
}

func (m *mockStreamOnlyClient) Rename() {}

var (
	_ RemoteFileClient = (*mockStreamOnlyClient)(nil)
	_ CanOpenReaderAt  = (*mockStreamOnlyClient)(nil)
	_ CanOpenRange     = (*mockStreamOnlyClient)(nil)
)

// fakeStore is a CredentialStore returning one fixed record.
type fakeStore struct {
	creds  *Credentials
	err    error
	lastID string
}

func (s *fakeStore) ByID(ctx context.Context, id string) (*Credentials, error) {
	s.lastID = id
	return s.creds, s.err
}

func (s *fakeStore) ByEndpoint(ctx context.Context, scheme, host string, port int) (*Credentials, error) {
	return s.creds, s.err
}

func testStore() *fakeStore {
	return &fakeStore{creds: &Credentials{Username: "tester", Password: "secret"}}
}

// dialCounter wraps a fixed set of clients behind the test dialer, handing
// out one per (host, share) in dial order.
type dialCounter struct {
	mu      sync.Mutex
	dials   int
	clients []RemoteFileClient
	err     error
}

func (d *dialCounter) dial(cfg ClientConfig) (RemoteFileClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		d.dials++
		return nil, d.err
	}
	if d.dials >= len(d.clients) {
		return nil, fmt.Errorf("unexpected dial #%d to %s", d.dials+1, cfg.Endpoint())
	}
	c := d.clients[d.dials]
	d.dials++
	return c, nil
}

func (d *dialCounter) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
