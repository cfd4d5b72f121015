package remotekit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// testDispatcher wires a dispatcher to mock remotes, keyed by host.
func testDispatcher(t *testing.T, clients map[string]RemoteFileClient, cache *FileCache, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	setDialer(t, func(cfg ClientConfig) (RemoteFileClient, error) {
		c, ok := clients[cfg.Host]
		if !ok {
			t.Fatalf("unexpected dial to host %q", cfg.Host)
		}
		return c, nil
	})
	pool := NewConnPool(testStore())
	t.Cleanup(pool.Shutdown)
	return NewDispatcher(pool, cache, opts...)
}

func TestLocalCopy(t *testing.T) {
	dir := t.TempDir()
	data := testPayload(1000)
	src := writeTempFile(t, dir, "src.bin", data)
	dst := filepath.Join(dir, "sub", "dst.bin")

	d := testDispatcher(t, nil, nil)
	err := d.Copy(context.Background(), TransferRequest{Source: src, Destination: dst})
	if err != nil {
		t.Fatalf("copy: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("destination differs from source")
	}
	if _, err := os.Stat(dst + ".part"); !os.IsNotExist(err) {
		t.Error("copy left a .part file behind")
	}
}

func TestCopyOverwriteContract(t *testing.T) {
	dir := t.TempDir()
	src := writeTempFile(t, dir, "src.bin", []byte("new content"))
	dst := writeTempFile(t, dir, "dst.bin", []byte("precious"))

	d := testDispatcher(t, nil, nil)
	ctx := context.Background()

	err := d.Copy(ctx, TransferRequest{Source: src, Destination: dst})
	if !errors.Is(err, ErrExist) {
		t.Fatalf("copy onto existing: err = %v, want ErrExist", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "precious" {
		t.Error("failed copy modified the destination")
	}

	err = d.Copy(ctx, TransferRequest{Source: src, Destination: dst, Overwrite: true})
	if err != nil {
		t.Fatalf("overwrite copy: %v", err)
	}
	got, _ = os.ReadFile(dst)
	if string(got) != "new content" {
		t.Error("overwrite copy did not replace the destination")
	}
}

func TestLocalMove(t *testing.T) {
	dir := t.TempDir()
	data := testPayload(500)
	src := writeTempFile(t, dir, "src.bin", data)
	dst := filepath.Join(dir, "dst.bin")

	d := testDispatcher(t, nil, nil)
	res, err := d.Move(context.Background(), TransferRequest{Source: src, Destination: dst})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.SourceRemains {
		t.Error("local move should not leave the source")
	}
	if res.BytesMoved != int64(len(data)) {
		t.Errorf("BytesMoved = %d, want %d", res.BytesMoved, len(data))
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source still exists after move")
	}
	got, _ := os.ReadFile(dst)
	if !bytes.Equal(got, data) {
		t.Error("moved content differs")
	}
}

func TestDownloadCopy(t *testing.T) {
	remote := newMockClient(SchemeSFTP)
	data := testPayload(2048)
	remote.addFile("/media/f.bin", data)

	dst := filepath.Join(t.TempDir(), "f.bin")
	d := testDispatcher(t, map[string]RemoteFileClient{"nas": remote}, nil)

	var last Progress
	err := d.Copy(context.Background(), TransferRequest{
		Source:      "sftp://nas/media/f.bin",
		Destination: dst,
		Progress:    func(p Progress) { last = p },
	})
	if err != nil {
		t.Fatalf("download: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("downloaded content differs")
	}
	if last.Transferred != int64(len(data)) || last.Total != int64(len(data)) {
		t.Errorf("final progress %d/%d, want %d/%d",
			last.Transferred, last.Total, len(data), len(data))
	}
}

func TestDownloadUsesCache(t *testing.T) {
	remote := newMockClient(SchemeSFTP)
	data := testPayload(1024)
	remote.addFile("/media/f.bin", data)

	cache, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	d := testDispatcher(t, map[string]RemoteFileClient{"nas": remote}, cache)

	dir := t.TempDir()
	ctx := context.Background()
	for _, name := range []string{"one.bin", "two.bin"} {
		err := d.Copy(ctx, TransferRequest{
			Source:      "sftp://nas/media/f.bin",
			Destination: filepath.Join(dir, name),
		})
		if err != nil {
			t.Fatalf("copy to %s: %v", name, err)
		}
		got, _ := os.ReadFile(filepath.Join(dir, name))
		if !bytes.Equal(got, data) {
			t.Fatalf("content of %s differs", name)
		}
	}

	if remote.openRangeCalls != 1 {
		t.Errorf("two copies opened %d network streams, want 1", remote.openRangeCalls)
	}
}

func TestDownloadMoveSourceDeleteFails(t *testing.T) {
	remote := newMockClient(SchemeSFTP)
	data := testPayload(256)
	remote.addFile("/media/f.bin", data)
	remote.deleteErr = protoErr("delete", "/media/f.bin", ErrPermission)

	dst := filepath.Join(t.TempDir(), "f.bin")
	d := testDispatcher(t, map[string]RemoteFileClient{"nas": remote}, nil)

	res, err := d.Move(context.Background(), TransferRequest{
		Source:      "sftp://nas/media/f.bin",
		Destination: dst,
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if !res.SourceRemains {
		t.Error("expected SourceRemains after delete failure")
	}
	if res.CleanupErr == nil {
		t.Error("expected CleanupErr after delete failure")
	}

	// The bytes still arrived; only cleanup failed.
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("moved content differs")
	}
}

func TestUploadCopy(t *testing.T) {
	remote := newMockClient(SchemeSFTP)
	data := testPayload(1500)
	src := writeTempFile(t, t.TempDir(), "src.bin", data)

	d := testDispatcher(t, map[string]RemoteFileClient{"nas": remote}, nil)
	err := d.Copy(context.Background(), TransferRequest{
		Source:      src,
		Destination: "sftp://nas/incoming/f.bin",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	remote.mu.Lock()
	got, ok := remote.files["/incoming/f.bin"]
	_, partLeft := remote.files["/incoming/f.bin.part"]
	remote.mu.Unlock()
	if !ok {
		t.Fatal("uploaded file missing on remote")
	}
	if !bytes.Equal(got, data) {
		t.Error("uploaded content differs")
	}
	if partLeft {
		t.Error("upload left a .part file on the remote")
	}
	if !remote.renameCalled {
		t.Error("upload should land via .part and rename")
	}
}

func TestUploadOverwriteContract(t *testing.T) {
	remote := newMockClient(SchemeSFTP)
	remote.addFile("/f.bin", []byte("precious"))
	src := writeTempFile(t, t.TempDir(), "src.bin", []byte("new"))

	d := testDispatcher(t, map[string]RemoteFileClient{"nas": remote}, nil)
	err := d.Copy(context.Background(), TransferRequest{
		Source:      src,
		Destination: "sftp://nas/f.bin",
	})
	if !errors.Is(err, ErrExist) {
		t.Fatalf("upload onto existing: err = %v, want ErrExist", err)
	}

	remote.mu.Lock()
	got := remote.files["/f.bin"]
	remote.mu.Unlock()
	if string(got) != "precious" {
		t.Error("failed upload modified the destination")
	}
}

func TestRemoteSameServerMoveUsesRename(t *testing.T) {
	remote := newMockClient(SchemeSFTP)
	data := testPayload(400)
	remote.addFile("/a/f.bin", data)

	d := testDispatcher(t, map[string]RemoteFileClient{"nas": remote}, nil)
	res, err := d.Move(context.Background(), TransferRequest{
		Source:      "sftp://nas/a/f.bin",
		Destination: "sftp://nas/b/f.bin",
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if !remote.renameCalled {
		t.Error("same-server move should use rename")
	}
	if remote.openRangeCalls != 0 {
		t.Error("same-server move should not move bytes")
	}
	if res.SourceRemains {
		t.Error("renamed move should not leave the source")
	}

	remote.mu.Lock()
	_, srcLeft := remote.files["/a/f.bin"]
	got := remote.files["/b/f.bin"]
	remote.mu.Unlock()
	if srcLeft {
		t.Error("source still present after rename")
	}
	if !bytes.Equal(got, data) {
		t.Error("renamed content differs")
	}
}

func TestRemoteSameServerCopyStreamsOneSession(t *testing.T) {
	remote := &mockRandomClient{mockClient: newMockClient(SchemeSMB)}
	data := testPayload(800)
	remote.addFile("/a/f.bin", data)

	d := testDispatcher(t, map[string]RemoteFileClient{"nas": remote}, nil)
	err := d.Copy(context.Background(), TransferRequest{
		Source:      "smb://nas/media/a/f.bin",
		Destination: "smb://nas/media/b/f.bin",
	})
	if err != nil {
		t.Fatalf("copy: %v", err)
	}

	remote.mu.Lock()
	got := remote.files["/b/f.bin"]
	remote.mu.Unlock()
	if !bytes.Equal(got, data) {
		t.Error("copied content differs")
	}
}

func TestRemoteCrossServerCopy(t *testing.T) {
	src := newMockClient(SchemeSFTP)
	dst := newMockClient(SchemeSFTP)
	data := testPayload(2222)
	src.addFile("/out/f.bin", data)

	d := testDispatcher(t, map[string]RemoteFileClient{"nas1": src, "nas2": dst}, nil)
	err := d.Copy(context.Background(), TransferRequest{
		Source:      "sftp://nas1/out/f.bin",
		Destination: "sftp://nas2/in/f.bin",
	})
	if err != nil {
		t.Fatalf("copy: %v", err)
	}

	dst.mu.Lock()
	got := dst.files["/in/f.bin"]
	dst.mu.Unlock()
	if !bytes.Equal(got, data) {
		t.Error("cross-server content differs")
	}
	if src.openRangeCalls != 1 {
		t.Errorf("source streamed %d times, want 1", src.openRangeCalls)
	}
}

func TestRemoteMoveWithChecksumVerification(t *testing.T) {
	src := newMockClient(SchemeSFTP)
	dst := newMockClient(SchemeSFTP)
	data := testPayload(1024)
	src.addFile("/out/f.bin", data)

	cache, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	d := testDispatcher(t, map[string]RemoteFileClient{"nas1": src, "nas2": dst}, cache,
		WithMoveChecksum(ChecksumXXHash))

	res, err := d.Move(context.Background(), TransferRequest{
		Source:      "sftp://nas1/out/f.bin",
		Destination: "sftp://nas2/in/f.bin",
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.SourceRemains {
		t.Errorf("verified move left the source: %v", res.CleanupErr)
	}

	src.mu.Lock()
	_, srcLeft := src.files["/out/f.bin"]
	src.mu.Unlock()
	if srcLeft {
		t.Error("source not deleted after verified move")
	}
	dst.mu.Lock()
	got := dst.files["/in/f.bin"]
	dst.mu.Unlock()
	if !bytes.Equal(got, data) {
		t.Error("moved content differs")
	}
}

func TestProgressCadence(t *testing.T) {
	dir := t.TempDir()
	data := testPayload(512 * 1024)
	src := writeTempFile(t, dir, "src.bin", data)
	dst := filepath.Join(dir, "dst.bin")

	var reports []Progress
	d := testDispatcher(t, nil, nil)
	err := d.Copy(context.Background(), TransferRequest{
		Source:      src,
		Destination: dst,
		Progress:    func(p Progress) { reports = append(reports, p) },
	})
	if err != nil {
		t.Fatalf("copy: %v", err)
	}

	if len(reports) == 0 {
		t.Fatal("no progress reports")
	}
	last := reports[len(reports)-1]
	if last.Transferred != int64(len(data)) {
		t.Errorf("final report %d bytes, want %d", last.Transferred, len(data))
	}

	// Intermediate reports keep at least the byte-interval cadence.
	var prev int64
	for _, p := range reports[:len(reports)-1] {
		if p.Transferred-prev < ProgressByteInterval {
			t.Errorf("reports %d and %d bytes are closer than the interval", prev, p.Transferred)
		}
		prev = p.Transferred
	}
	if max := int(int64(len(data))/ProgressByteInterval) + 1; len(reports) > max {
		t.Errorf("%d reports for %d bytes, want at most %d", len(reports), len(data), max)
	}
}

func TestDispatcherDeleteAndExists(t *testing.T) {
	remote := newMockClient(SchemeSFTP)
	remote.addFile("/f.bin", []byte("x"))

	d := testDispatcher(t, map[string]RemoteFileClient{"nas": remote}, nil)
	ctx := context.Background()

	ok, err := d.Exists(ctx, "sftp://nas/f.bin")
	if err != nil || !ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}
	if err := d.Delete(ctx, "sftp://nas/f.bin"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err = d.Exists(ctx, "sftp://nas/f.bin")
	if err != nil || ok {
		t.Fatalf("exists after delete = %v, %v", ok, err)
	}

	local := writeTempFile(t, t.TempDir(), "f", []byte("x"))
	ok, err = d.Exists(ctx, local)
	if err != nil || !ok {
		t.Fatalf("local exists = %v, %v", ok, err)
	}
	if err := d.Delete(ctx, local); err != nil {
		t.Fatalf("local delete: %v", err)
	}
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Error("local file survived delete")
	}
}

// recordingStrategy captures routing decisions.
type recordingStrategy struct {
	copies int
}

func (s *recordingStrategy) Supports(srcScheme, dstScheme string) bool {
	return srcScheme == SchemeFTP && dstScheme == SchemeFTP
}

func (s *recordingStrategy) Copy(ctx context.Context, src, dst *RemoteURI, req TransferRequest) error {
	s.copies++
	return nil
}

func (s *recordingStrategy) Move(ctx context.Context, src, dst *RemoteURI, req TransferRequest) (*MoveResult, error) {
	return &MoveResult{}, nil
}

func (s *recordingStrategy) Delete(ctx context.Context, uri *RemoteURI) error { return nil }

func (s *recordingStrategy) Exists(ctx context.Context, uri *RemoteURI) (bool, error) {
	return false, nil
}

func TestDispatcherCustomStrategyWins(t *testing.T) {
	rec := &recordingStrategy{}
	d := testDispatcher(t, nil, nil, WithStrategy(rec))

	err := d.Copy(context.Background(), TransferRequest{
		Source:      "ftp://a/f",
		Destination: "ftp://b/f",
	})
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if rec.copies != 1 {
		t.Error("custom strategy was not consulted first")
	}
}

func TestDispatcherRejectsBadURI(t *testing.T) {
	d := testDispatcher(t, nil, nil)
	err := d.Copy(context.Background(), TransferRequest{
		Source:      "gopher://host/f",
		Destination: "/tmp/f",
	})
	if !IsValidationError(err) {
		t.Errorf("bad scheme: err = %v, want validation error", err)
	}
}

func TestRemoteSameSessionCopyVerifiesSize(t *testing.T) {
	remote := &mockRandomClient{mockClient: newMockClient(SchemeSMB)}
	remote.addFile("/a/f.bin", testPayload(900))
	remote.writeTruncate = 500

	d := testDispatcher(t, map[string]RemoteFileClient{"nas": remote}, nil)
	err := d.Copy(context.Background(), TransferRequest{
		Source:      "smb://nas/media/a/f.bin",
		Destination: "smb://nas/media/b/f.bin",
	})
	if KindOf(err) != KindProtocol {
		t.Fatalf("expected protocol error on short copy, got %v", err)
	}

	remote.mu.Lock()
	_, leftover := remote.files["/b/f.bin"]
	remote.mu.Unlock()
	if leftover {
		t.Error("short destination was not removed")
	}
}

func TestRemoteMoveWithoutRenameKeepsSourceOnShortCopy(t *testing.T) {
	remote := &mockStreamOnlyClient{
		mockRandomClient: &mockRandomClient{mockClient: newMockClient(SchemeSMB)},
	}
	data := testPayload(900)
	remote.addFile("/a/f.bin", data)
	remote.writeTruncate = 500

	d := testDispatcher(t, map[string]RemoteFileClient{"nas": remote}, nil)
	_, err := d.Move(context.Background(), TransferRequest{
		Source:      "smb://nas/media/a/f.bin",
		Destination: "smb://nas/media/b/f.bin",
	})
	if KindOf(err) != KindProtocol {
		t.Fatalf("expected protocol error on short copy, got %v", err)
	}

	remote.mu.Lock()
	src, srcOK := remote.files["/a/f.bin"]
	_, dstOK := remote.files["/b/f.bin"]
	remote.mu.Unlock()
	if !srcOK || !bytes.Equal(src, data) {
		t.Error("source was lost after a failed copy")
	}
	if dstOK {
		t.Error("short destination was not removed")
	}
}

func TestRemoteMoveWithoutRenameCopiesThenDeletes(t *testing.T) {
	remote := &mockStreamOnlyClient{
		mockRandomClient: &mockRandomClient{mockClient: newMockClient(SchemeSMB)},
	}
	data := testPayload(900)
	remote.addFile("/a/f.bin", data)

	d := testDispatcher(t, map[string]RemoteFileClient{"nas": remote}, nil)
	res, err := d.Move(context.Background(), TransferRequest{
		Source:      "smb://nas/media/a/f.bin",
		Destination: "smb://nas/media/b/f.bin",
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.BytesMoved != int64(len(data)) || res.SourceRemains {
		t.Errorf("unexpected result %+v", res)
	}

	remote.mu.Lock()
	_, srcOK := remote.files["/a/f.bin"]
	dst := remote.files["/b/f.bin"]
	renamed := remote.renameCalled
	remote.mu.Unlock()
	if srcOK {
		t.Error("source survived the move")
	}
	if !bytes.Equal(dst, data) {
		t.Error("moved content differs")
	}
	if renamed {
		t.Error("rename primitive used by a client that does not offer it")
	}
}
