package remotekit

import (
	"context"
	"os"
	"path/filepath"
)

// downloadStrategy handles remote -> file transfers. Downloads land in the
// unified file cache when one is configured, so independent consumers
// fetching the same remote path and size share one network transfer.
type downloadStrategy struct {
	env *strategyEnv
}

func (s *downloadStrategy) Supports(srcScheme, dstScheme string) bool {
	return srcScheme != SchemeLocal && dstScheme == SchemeLocal
}

func (s *downloadStrategy) Copy(ctx context.Context, src, dst *RemoteURI, req TransferRequest) error {
	client, err := s.env.acquireFor(ctx, src)
	if err != nil {
		return err
	}

	entry, err := client.Stat(ctx, src.Path)
	if err != nil {
		return err
	}
	if entry.IsDir {
		return validationErr("copy", src.Path, ErrIsDir)
	}

	if !req.Overwrite {
		if _, err := os.Stat(dst.Path); err == nil {
			return validationErr("copy", dst.Path, ErrExist)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dst.Path), 0o755); err != nil {
		return ioErr("copy", dst.Path, err)
	}

	t := newProgressTracker(entry.Size, req.Progress)

	if s.env.cache == nil {
		if err := downloadTo(ctx, client, src.Path, dst.Path, t); err != nil {
			return err
		}
		t.finish()
		return nil
	}

	cached, err := s.env.cache.Fetch(ctx, src.CacheIdentity(), entry.Size,
		func(ctx context.Context, dest string) error {
			return downloadTo(ctx, client, src.Path, dest, t)
		})
	if err != nil {
		return err
	}

	if err := copyFileLocal(ctx, cached, dst.Path, newProgressTracker(entry.Size, nil)); err != nil {
		return err
	}
	t.finish()
	return nil
}

func (s *downloadStrategy) Move(ctx context.Context, src, dst *RemoteURI, req TransferRequest) (*MoveResult, error) {
	if err := s.Copy(ctx, src, dst, req); err != nil {
		return nil, err
	}

	fi, err := os.Stat(dst.Path)
	if err != nil {
		return nil, ioErr("move", dst.Path, err)
	}
	res := &MoveResult{BytesMoved: fi.Size()}

	client, err := s.env.acquireFor(ctx, src)
	if err != nil {
		res.SourceRemains = true
		res.CleanupErr = err
		return res, nil
	}
	if err := client.Delete(ctx, src.Path); err != nil {
		res.SourceRemains = true
		res.CleanupErr = err
	}
	return res, nil
}

func (s *downloadStrategy) Delete(ctx context.Context, uri *RemoteURI) error {
	return s.env.deleteURI(ctx, uri)
}

func (s *downloadStrategy) Exists(ctx context.Context, uri *RemoteURI) (bool, error) {
	return s.env.existsURI(ctx, uri)
}

var _ TransferStrategy = (*downloadStrategy)(nil)
