package remotekit

import (
	"context"
	"os"
	"path/filepath"
)

// localStrategy handles file -> file transfers with plain filesystem
// operations.
type localStrategy struct {
	env *strategyEnv
}

func (s *localStrategy) Supports(srcScheme, dstScheme string) bool {
	return srcScheme == SchemeLocal && dstScheme == SchemeLocal
}

func (s *localStrategy) Copy(ctx context.Context, src, dst *RemoteURI, req TransferRequest) error {
	fi, err := os.Stat(src.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return ioErr("copy", src.Path, ErrNotExist)
		}
		return ioErr("copy", src.Path, err)
	}
	if fi.IsDir() {
		return validationErr("copy", src.Path, ErrIsDir)
	}

	if err := s.checkDestination(dst.Path, req.Overwrite); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst.Path), 0o755); err != nil {
		return ioErr("copy", dst.Path, err)
	}

	t := newProgressTracker(fi.Size(), req.Progress)
	if err := copyFileLocal(ctx, src.Path, dst.Path, t); err != nil {
		return err
	}
	t.finish()
	return nil
}

func (s *localStrategy) Move(ctx context.Context, src, dst *RemoteURI, req TransferRequest) (*MoveResult, error) {
	fi, err := os.Stat(src.Path)
	if err != nil {
		return nil, ioErr("move", src.Path, err)
	}
	if err := s.checkDestination(dst.Path, req.Overwrite); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dst.Path), 0o755); err != nil {
		return nil, ioErr("move", dst.Path, err)
	}

	// Rename first: free on the same filesystem. Cross-device renames fail
	// and fall back to copy-then-delete.
	if err := os.Rename(src.Path, dst.Path); err == nil {
		t := newProgressTracker(fi.Size(), req.Progress)
		t.finish()
		return &MoveResult{BytesMoved: fi.Size()}, nil
	}

	if err := s.Copy(ctx, src, dst, req); err != nil {
		return nil, err
	}
	res := &MoveResult{BytesMoved: fi.Size()}
	if err := os.Remove(src.Path); err != nil {
		res.SourceRemains = true
		res.CleanupErr = ioErr("move cleanup", src.Path, err)
	}
	return res, nil
}

func (s *localStrategy) Delete(ctx context.Context, uri *RemoteURI) error {
	return s.env.deleteURI(ctx, uri)
}

func (s *localStrategy) Exists(ctx context.Context, uri *RemoteURI) (bool, error) {
	return s.env.existsURI(ctx, uri)
}

// checkDestination enforces the overwrite contract before any byte moves.
func (s *localStrategy) checkDestination(path string, overwrite bool) error {
	if overwrite {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return validationErr("copy", path, ErrExist)
	} else if !os.IsNotExist(err) {
		return ioErr("copy", path, err)
	}
	return nil
}

// copyFileLocal copies src to dst through a .part sibling and rename, so
// the destination is either absent or complete.
func copyFileLocal(ctx context.Context, src, dst string, t *progressTracker) error {
	in, err := os.Open(src)
	if err != nil {
		return ioErr("copy", src, err)
	}
	defer in.Close()

	part := dst + ".part"
	out, err := os.Create(part)
	if err != nil {
		return ioErr("copy", part, err)
	}

	if _, err := copyChunks(ctx, out, in, t); err != nil {
		out.Close()
		os.Remove(part)
		return ioErr("copy", dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(part)
		return ioErr("copy", part, err)
	}
	if err := os.Rename(part, dst); err != nil {
		os.Remove(part)
		return ioErr("copy", dst, err)
	}
	return nil
}

var _ TransferStrategy = (*localStrategy)(nil)
