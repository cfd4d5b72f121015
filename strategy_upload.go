package remotekit

import (
	"context"
	"os"
	"path"
)

// uploadStrategy handles file -> remote transfers.
type uploadStrategy struct {
	env *strategyEnv
}

func (s *uploadStrategy) Supports(srcScheme, dstScheme string) bool {
	return srcScheme == SchemeLocal && dstScheme != SchemeLocal
}

func (s *uploadStrategy) Copy(ctx context.Context, src, dst *RemoteURI, req TransferRequest) error {
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

	client, err := s.env.acquireFor(ctx, dst)
	if err != nil {
		return err
	}

	if !req.Overwrite {
		exists, err := client.Exists(ctx, dst.Path)
		if err != nil {
			return err
		}
		if exists {
			return validationErr("copy", dst.Path, ErrExist)
		}
	}

	if dir := path.Dir(dst.Path); dir != "/" && dir != "." {
		if err := client.Mkdir(ctx, dir); err != nil {
			return err
		}
	}

	t := newProgressTracker(fi.Size(), req.Progress)
	if err := uploadFrom(ctx, client, src.Path, dst.Path, t); err != nil {
		return err
	}
	t.finish()
	return nil
}

func (s *uploadStrategy) Move(ctx context.Context, src, dst *RemoteURI, req TransferRequest) (*MoveResult, error) {
	fi, err := os.Stat(src.Path)
	if err != nil {
		return nil, ioErr("move", src.Path, err)
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

func (s *uploadStrategy) Delete(ctx context.Context, uri *RemoteURI) error {
	return s.env.deleteURI(ctx, uri)
}

func (s *uploadStrategy) Exists(ctx context.Context, uri *RemoteURI) (bool, error) {
	return s.env.existsURI(ctx, uri)
}

var _ TransferStrategy = (*uploadStrategy)(nil)
