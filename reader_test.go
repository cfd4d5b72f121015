package remotekit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func testPayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestReaderRandomAccess(t *testing.T) {
	data := testPayload(4096)
	client := &mockRandomClient{mockClient: newMockClient(SchemeSMB)}
	client.addFile("/media/movie.mkv", data)

	r := NewReaderFromClient(client, "/media/movie.mkv")
	defer r.Close()

	ctx := context.Background()
	size, err := r.Size(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != int64(len(data)) {
		t.Fatalf("size = %d, want %d", size, len(data))
	}

	// Out-of-order reads through one handle.
	for _, off := range []int64{1000, 0, 3000, 512} {
		buf := make([]byte, 256)
		n, err := r.ReadAt(ctx, buf, off)
		if err != nil {
			t.Fatalf("read at %d: %v", off, err)
		}
		if n != len(buf) {
			t.Fatalf("read at %d returned %d bytes", off, n)
		}
		if !bytes.Equal(buf, data[off:off+256]) {
			t.Errorf("read at %d returned wrong bytes", off)
		}
	}

	if client.openReaderAtCalls != 1 {
		t.Errorf("random access opened %d handles, want 1", client.openReaderAtCalls)
	}
}

func TestReaderEOF(t *testing.T) {
	data := testPayload(100)
	client := &mockRandomClient{mockClient: newMockClient(SchemeSMB)}
	client.addFile("/f", data)

	r := NewReaderFromClient(client, "/f")
	defer r.Close()
	ctx := context.Background()

	buf := make([]byte, 10)
	if _, err := r.ReadAt(ctx, buf, 100); err != io.EOF {
		t.Errorf("read at size: err = %v, want io.EOF", err)
	}
	if _, err := r.ReadAt(ctx, buf, 5000); err != io.EOF {
		t.Errorf("read past size: err = %v, want io.EOF", err)
	}
}

func TestReaderClampsNearEOF(t *testing.T) {
	data := testPayload(100)
	client := &mockRandomClient{mockClient: newMockClient(SchemeSMB)}
	client.addFile("/f", data)

	r := NewReaderFromClient(client, "/f")
	defer r.Close()

	buf := make([]byte, 64)
	n, err := r.ReadAt(context.Background(), buf, 90)
	if err != nil {
		t.Fatalf("clamped read: %v", err)
	}
	if n != 10 {
		t.Errorf("clamped read returned %d bytes, want 10", n)
	}
	if !bytes.Equal(buf[:n], data[90:]) {
		t.Error("clamped read returned wrong bytes")
	}
}

func TestReaderNegativeOffset(t *testing.T) {
	client := &mockRandomClient{mockClient: newMockClient(SchemeSMB)}
	client.addFile("/f", testPayload(10))

	r := NewReaderFromClient(client, "/f")
	defer r.Close()

	_, err := r.ReadAt(context.Background(), make([]byte, 4), -1)
	if !IsValidationError(err) {
		t.Errorf("negative offset: err = %v, want validation error", err)
	}
}

func TestReaderSequentialReopensOnJump(t *testing.T) {
	data := testPayload(8192)
	client := newMockClient(SchemeFTP) // CanOpenRange only, like the ftp driver
	client.addFile("/pub/f", data)

	r := NewReaderFromClient(client, "/pub/f")
	defer r.Close()
	ctx := context.Background()

	// Contiguous reads share one stream.
	buf := make([]byte, 1024)
	for off := int64(0); off < 4096; off += 1024 {
		n, err := r.ReadAt(ctx, buf, off)
		if err != nil || n != 1024 {
			t.Fatalf("read at %d: n=%d err=%v", off, n, err)
		}
		if !bytes.Equal(buf, data[off:off+1024]) {
			t.Fatalf("read at %d returned wrong bytes", off)
		}
	}
	if client.openRangeCalls != 1 {
		t.Fatalf("contiguous reads opened %d streams, want 1", client.openRangeCalls)
	}

	// A backward jump forces a reopen.
	if _, err := r.ReadAt(ctx, buf, 0); err != nil {
		t.Fatalf("read after jump: %v", err)
	}
	if client.openRangeCalls != 2 {
		t.Errorf("jump opened %d streams total, want 2", client.openRangeCalls)
	}
}

func TestReaderStatDirectory(t *testing.T) {
	client := &mockRandomClient{mockClient: newMockClient(SchemeSMB)}
	client.addDir("/media")

	r := NewReaderFromClient(client, "/media")
	defer r.Close()

	_, err := r.Size(context.Background())
	if err == nil || !errors.Is(err, ErrIsDir) {
		t.Errorf("size of directory: err = %v, want ErrIsDir", err)
	}
}

func TestReaderMissingFile(t *testing.T) {
	client := &mockRandomClient{mockClient: newMockClient(SchemeSMB)}

	r := NewReaderFromClient(client, "/nope")
	defer r.Close()

	_, err := r.Size(context.Background())
	if !IsNotExist(err) {
		t.Errorf("size of missing file: err = %v, want not-exist", err)
	}
}

func TestReaderCloseIdempotent(t *testing.T) {
	client := &mockRandomClient{mockClient: newMockClient(SchemeSMB)}
	client.addFile("/f", testPayload(10))

	r := NewReaderFromClient(client, "/f")
	if _, err := r.ReadAt(context.Background(), make([]byte, 4), 0); err != nil {
		t.Fatal(err)
	}

	if err := r.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if !client.closed {
		t.Error("reader did not close its session")
	}

	if _, err := r.ReadAt(context.Background(), make([]byte, 4), 0); err == nil {
		t.Error("read after close must fail")
	}
}

func TestReaderLazyDial(t *testing.T) {
	data := testPayload(64)
	client := &mockRandomClient{mockClient: newMockClient(SchemeSMB)}
	client.addFile("/share-path/f", data)

	dialed := 0
	setDialer(t, func(cfg ClientConfig) (RemoteFileClient, error) {
		dialed++
		if cfg.Scheme != SchemeSMB || cfg.Host != "nas" || cfg.Share != "media" {
			t.Errorf("unexpected dial config: %+v", cfg)
		}
		return client, nil
	})

	r, err := OpenReader("smb://nas/media/share-path/f", testStore())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	if dialed != 0 {
		t.Fatal("open must not dial")
	}

	buf := make([]byte, 16)
	if _, err := r.ReadAt(context.Background(), buf, 0); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if dialed != 1 {
		t.Errorf("first read dialed %d times, want 1", dialed)
	}
	if !bytes.Equal(buf, data[:16]) {
		t.Error("first read returned wrong bytes")
	}
}

func TestFixedBufferSize(t *testing.T) {
	if got := FixedBufferSize(4096).RecommendedBufferSize("nas:445"); got != 4096 {
		t.Errorf("fixed hint = %d, want 4096", got)
	}
	if got := FixedBufferSize(0).RecommendedBufferSize("nas:445"); got != DefaultReadBufferSize {
		t.Errorf("zero hint = %d, want default", got)
	}
}
