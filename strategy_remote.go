package remotekit

import (
	"context"
	"fmt"
	"os"
	"path"

	"go.uber.org/zap"
)

// remoteStrategy handles remote -> remote transfers.
//
// Same-server moves prefer the protocol's rename primitive over moving
// bytes. Cross-server and cross-protocol transfers stream through a
// bounded temporary file on local disk (never an in-memory buffer) using
// the unified cache as the intermediate location when one is configured,
// so the downloaded bytes remain reusable.
type remoteStrategy struct {
	env *strategyEnv
}

func (s *remoteStrategy) Supports(srcScheme, dstScheme string) bool {
	return srcScheme != SchemeLocal && dstScheme != SchemeLocal
}

func (s *remoteStrategy) Copy(ctx context.Context, src, dst *RemoteURI, req TransferRequest) error {
	srcClient, err := s.env.acquireFor(ctx, src)
	if err != nil {
		return err
	}
	entry, err := srcClient.Stat(ctx, src.Path)
	if err != nil {
		return err
	}
	if entry.IsDir {
		return validationErr("copy", src.Path, ErrIsDir)
	}

	dstClient := srcClient
	if !src.SameServer(dst) {
		if dstClient, err = s.env.acquireFor(ctx, dst); err != nil {
			return err
		}
	}

	if !req.Overwrite {
		exists, err := dstClient.Exists(ctx, dst.Path)
		if err != nil {
			return err
		}
		if exists {
			return validationErr("copy", dst.Path, ErrExist)
		}
	}
	if dir := path.Dir(dst.Path); dir != "/" && dir != "." {
		if err := dstClient.Mkdir(ctx, dir); err != nil {
			return err
		}
	}

	t := newProgressTracker(entry.Size, req.Progress)

	// Same-session streaming works only when the protocol multiplexes file
	// operations over one session; random-access support is the marker for
	// that. FTP serializes its data channel, so it takes the temp-file
	// route even against a single server.
	if _, multiplexed := srcClient.(CanOpenReaderAt); src.SameServer(dst) && multiplexed {
		if err := s.copySameSession(ctx, srcClient, src.Path, dst.Path, entry.Size, t); err != nil {
			return err
		}
		t.finish()
		return nil
	}

	local, cleanup, err := s.stageLocally(ctx, srcClient, src, entry.Size, t)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := uploadFrom(ctx, dstClient, local, dst.Path, t); err != nil {
		return err
	}
	t.finish()
	return nil
}

func (s *remoteStrategy) Move(ctx context.Context, src, dst *RemoteURI, req TransferRequest) (*MoveResult, error) {
	srcClient, err := s.env.acquireFor(ctx, src)
	if err != nil {
		return nil, err
	}
	entry, err := srcClient.Stat(ctx, src.Path)
	if err != nil {
		return nil, err
	}

	if renamer, ok := srcClient.(CanRename); ok && src.SameServer(dst) {
		if !req.Overwrite {
			exists, err := srcClient.Exists(ctx, dst.Path)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, validationErr("move", dst.Path, ErrExist)
			}
		}
		if dir := path.Dir(dst.Path); dir != "/" && dir != "." {
			if err := srcClient.Mkdir(ctx, dir); err != nil {
				return nil, err
			}
		}
		if err := renamer.Rename(ctx, src.Path, dst.Path); err != nil {
			return nil, err
		}
		t := newProgressTracker(entry.Size, req.Progress)
		t.finish()
		return &MoveResult{BytesMoved: entry.Size}, nil
	}

	if err := s.Copy(ctx, src, dst, req); err != nil {
		return nil, err
	}

	// Both copy routes confirm the destination byte count before
	// returning. The optional checksum comparison re-reads the destination
	// before the source is allowed to disappear.
	if s.env.moveChecksum != "" {
		if err := s.verifyMove(ctx, src, dst, entry.Size); err != nil {
			return nil, err
		}
	}

	res := &MoveResult{BytesMoved: entry.Size}
	if err := srcClient.Delete(ctx, src.Path); err != nil {
		res.SourceRemains = true
		res.CleanupErr = err
	}
	return res, nil
}

func (s *remoteStrategy) Delete(ctx context.Context, uri *RemoteURI) error {
	return s.env.deleteURI(ctx, uri)
}

func (s *remoteStrategy) Exists(ctx context.Context, uri *RemoteURI) (bool, error) {
	return s.env.existsURI(ctx, uri)
}

// copySameSession streams source to destination over one session and
// confirms the destination byte count, removing a short destination so a
// move's source delete can never follow a truncated copy.
func (s *remoteStrategy) copySameSession(ctx context.Context, client RemoteFileClient, srcPath, dstPath string, size int64, t *progressTracker) error {
	opener, ok := client.(CanOpenRange)
	if !ok {
		return protoErr("copy", srcPath, ErrNotSupported)
	}
	stream, err := opener.OpenRange(ctx, srcPath, 0)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := client.Write(ctx, dstPath, &chunkReader{ctx: ctx, r: stream, t: t}); err != nil {
		return err
	}

	entry, err := client.Stat(ctx, dstPath)
	if err != nil {
		return err
	}
	if entry.Size != size {
		_ = client.Delete(ctx, dstPath)
		return protoErr("copy", dstPath,
			fmt.Errorf("wrote %d bytes, expected %d", entry.Size, size))
	}
	return nil
}

// stageLocally downloads the source into the cache slot (kept for reuse)
// or a throwaway temp file when no cache is configured. The returned
// cleanup removes only throwaway files.
func (s *remoteStrategy) stageLocally(ctx context.Context, client RemoteFileClient, src *RemoteURI, size int64, t *progressTracker) (string, func(), error) {
	if s.env.cache != nil {
		local, err := s.env.cache.Fetch(ctx, src.CacheIdentity(), size,
			func(ctx context.Context, dest string) error {
				return downloadTo(ctx, client, src.Path, dest, t)
			})
		if err != nil {
			return "", nil, err
		}
		return local, func() {}, nil
	}

	tmp, err := os.CreateTemp("", "remotekit-*")
	if err != nil {
		return "", nil, ioErr("copy", src.Path, err)
	}
	tmpName := tmp.Name()
	tmp.Close()

	if err := downloadTo(ctx, client, src.Path, tmpName, t); err != nil {
		os.Remove(tmpName)
		return "", nil, err
	}
	return tmpName, func() {
		if err := os.Remove(tmpName); err != nil && !os.IsNotExist(err) {
			s.env.log.Debug("temp file remove", zap.String("path", tmpName), zap.Error(err))
		}
	}, nil
}

// verifyMove re-hashes the staged local copy and the destination.
func (s *remoteStrategy) verifyMove(ctx context.Context, src, dst *RemoteURI, size int64) error {
	if s.env.cache == nil {
		// Without a cache the staged copy is already gone; byte count is
		// the only verification available.
		return nil
	}
	local, ok := s.env.cache.CachedFile(src.CacheIdentity(), size)
	if !ok {
		return nil
	}
	want, err := ChecksumLocalFile(local, s.env.moveChecksum)
	if err != nil {
		return err
	}
	dstClient, err := s.env.acquireFor(ctx, dst)
	if err != nil {
		return err
	}
	return verifyRemoteChecksum(ctx, dstClient, dst.Path, want, s.env.moveChecksum)
}

var _ TransferStrategy = (*remoteStrategy)(nil)
