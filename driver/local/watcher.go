package local

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/gobeaver/remotekit"
)

// watcher bridges fsnotify events to a remotekit.ChangeToken. One watcher
// per Watch call; all watchers are torn down when the client closes.
type watcher struct {
	fs      *fsnotify.Watcher
	token   *remotekit.CallbackChangeToken
	matcher glob.Glob

	stopOnce sync.Once
	done     chan struct{}
}

// Watch implements remotekit.CanWatch. The pattern is a glob relative to
// the client root ("*.mkv", "incoming/**"); "" or "*" matches everything.
// The token fires once on the first matching change.
func (c *Client) Watch(ctx context.Context, pattern string) (remotekit.ChangeToken, error) {
	if err := c.check(ctx, "watch", pattern); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, remotekit.NewOpError("watch", pattern, remotekit.KindIO, err)
	}

	dir, matcher, err := splitPattern(c.root, pattern)
	if err != nil {
		fsw.Close()
		return nil, remotekit.NewOpError("watch", pattern, remotekit.KindValidation, err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, mapOSError("watch", dir, err)
	}

	w := &watcher{
		fs:      fsw,
		token:   remotekit.NewCallbackChangeToken(),
		matcher: matcher,
		done:    make(chan struct{}),
	}
	c.mu.Lock()
	c.watchers = append(c.watchers, w)
	c.mu.Unlock()

	go w.loop(ctx, dir)
	return w.token, nil
}

func (w *watcher) loop(ctx context.Context, dir string) {
	defer w.fs.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			rel, err := filepath.Rel(dir, ev.Name)
			if err != nil {
				rel = filepath.Base(ev.Name)
			}
			if w.matcher != nil && !w.matcher.Match(filepath.ToSlash(rel)) {
				continue
			}
			w.token.SignalChange()
			return
		case _, ok := <-w.fs.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *watcher) stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// splitPattern separates the literal directory prefix of a glob pattern
// from its matching part. "incoming/*.mkv" watches <root>/incoming and
// matches "*.mkv"; a bare "*.mkv" watches the root itself.
func splitPattern(root, pattern string) (string, glob.Glob, error) {
	pattern = filepath.ToSlash(pattern)
	if pattern == "" || pattern == "*" {
		if root == "" {
			return ".", nil, nil
		}
		return root, nil, nil
	}

	dir := ""
	rest := pattern
	if i := strings.LastIndex(pattern, "/"); i >= 0 {
		prefix := pattern[:i]
		if !strings.ContainsAny(prefix, "*?[{") {
			dir = prefix
			rest = pattern[i+1:]
		}
	}

	g, err := glob.Compile(rest, '/')
	if err != nil {
		return "", nil, err
	}

	base := root
	if base == "" {
		base = "."
	}
	return filepath.Join(base, filepath.FromSlash(dir)), g, nil
}
