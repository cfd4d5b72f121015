package remotekit

import (
	"context"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

// TrashFolderName is the reserved trash directory name. Directories with
// this name are always excluded from traversal, recursive or not.
const TrashFolderName = ".trash"

// DefaultProgressEvery is the default number of scanned files between
// progress callbacks.
const DefaultProgressEvery = 10

// SizeRange is an inclusive byte-size filter. Max 0 means unbounded.
type SizeRange struct {
	Min int64
	Max int64
}

// in reports whether size falls inside the range.
func (r SizeRange) in(size int64) bool {
	if size < r.Min {
		return false
	}
	return r.Max <= 0 || size <= r.Max
}

// ScanProgress is the transient, call-scoped progress snapshot handed to
// the scan callback.
type ScanProgress struct {
	Scanned     int
	CurrentFile string
}

// ScanOptions configures one scan.
type ScanOptions struct {
	// Types restricts results to the listed media types. Empty means all
	// types, including unknown.
	Types []MediaType

	// Per-type size ranges. Document types (text, pdf, epub) are never
	// size filtered.
	ImageSize SizeRange
	VideoSize SizeRange
	AudioSize SizeRange

	// Recursive descends into subdirectories.
	Recursive bool

	// NamePattern optionally restricts file names with a glob
	// ("*.mkv", "S01E*").
	NamePattern string

	// ProgressEvery is the number of scanned files between progress
	// callbacks. Zero means DefaultProgressEvery.
	ProgressEvery int

	// OnProgress receives throttled progress snapshots.
	OnProgress func(ScanProgress)

	// ShouldStop is the cooperative stop flag, polled between directory
	// expansions. Once it returns true the scan halts within one
	// directory's worth of work and returns what it accumulated.
	ShouldStop func() bool

	// Logger for skipped-directory diagnostics. Defaults to no-op.
	Logger *zap.Logger
}

// Scan enumerates files under root on any listing-capable client, filtered
// by type, size, and name pattern. Traversal is breadth-first over an
// explicit queue so arbitrarily deep trees cannot grow the call stack, and
// result order is unspecified.
//
// Subdirectories that fail to list are skipped and logged; a failure on
// root itself is returned. Cancellation via ctx or ShouldStop returns
// the entries accumulated so far with a nil error.
func Scan(ctx context.Context, client RemoteFileClient, root string, opts ScanOptions) ([]FileEntry, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var nameGlob glob.Glob
	if opts.NamePattern != "" {
		g, err := glob.Compile(opts.NamePattern)
		if err != nil {
			return nil, validationErr("scan", opts.NamePattern, err)
		}
		nameGlob = g
	}

	every := opts.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}

	var (
		results []FileEntry
		scanned int
	)

	queue := []string{root}
	first := true

	for len(queue) > 0 {
		select {
		case <-ctx.Done():
			return results, nil
		default:
		}
		if opts.ShouldStop != nil && opts.ShouldStop() {
			return results, nil
		}

		dir := queue[0]
		queue = queue[1:]

		entries, err := client.List(ctx, dir)
		if err != nil {
			if first {
				return nil, err
			}
			log.Debug("scan: skipping unreadable directory",
				zap.String("dir", dir), zap.Error(err))
			continue
		}
		first = false

		for _, entry := range entries {
			if entry.IsDir {
				if entry.Name == TrashFolderName {
					continue
				}
				if opts.Recursive {
					queue = append(queue, entry.Path)
				}
				continue
			}

			scanned++
			if opts.OnProgress != nil && scanned%every == 0 {
				opts.OnProgress(ScanProgress{Scanned: scanned, CurrentFile: entry.Name})
			}

			if matchEntry(entry, opts, nameGlob) {
				results = append(results, entry)
			}
		}
	}

	return results, nil
}

// matchEntry applies the type, size, and name filters to one file.
func matchEntry(entry FileEntry, opts ScanOptions, nameGlob glob.Glob) bool {
	if nameGlob != nil && !nameGlob.Match(entry.Name) {
		return false
	}

	t := DetectMediaType(entry.Path)

	if len(opts.Types) > 0 {
		found := false
		for _, want := range opts.Types {
			if t == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if !t.SizeFiltered() {
		return true
	}
	switch t {
	case TypeImage, TypeGIF:
		return opts.ImageSize.in(entry.Size)
	case TypeVideo:
		return opts.VideoSize.in(entry.Size)
	case TypeAudio:
		return opts.AudioSize.in(entry.Size)
	default:
		return true
	}
}

// Paginate slices a full scan result by offset and limit and reports
// whether more entries follow the page. This reuses full enumeration
// rather than server-side paging: every page costs a complete scan
// upstream, which is the accepted trade for protocols that cannot page.
func Paginate(entries []FileEntry, offset, limit int) ([]FileEntry, bool) {
	if offset >= len(entries) || offset < 0 {
		return nil, false
	}
	end := len(entries)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return entries[offset:end], end < len(entries)
}
