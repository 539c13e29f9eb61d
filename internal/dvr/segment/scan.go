package segment

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const statConcurrency = 8

// Entry is one recorded container found by Scan.
type Entry struct {
	Base string
	Name Name
	// Parsed is false for recognized containers whose base name does not
	// follow the timestamp scheme. They sort after every parsed segment.
	Parsed bool
	Size   int64
}

// Listing is the result of one recordings directory scan.
type Listing struct {
	// Entries holds recognized containers, oldest first.
	Entries []Entry
	// TotalBytes sums every regular file in the recordings directory,
	// recognized or not.
	TotalBytes int64
	// Errors counts entries that could not be stat'ed.
	Errors int
}

// Oldest returns the first segment in eviction order.
func (l Listing) Oldest() (Entry, bool) {
	if len(l.Entries) == 0 {
		return Entry{}, false
	}

	return l.Entries[0], true
}

// Scan lists the recordings directory, stats every entry and only then
// sorts and sums. A missing directory is an empty listing.
func (l Layout) Scan(ctx context.Context) (Listing, error) {
	const op = "segment.Scan"

	dirEntries, err := os.ReadDir(l.RecordingsDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Listing{}, nil
		}

		return Listing{}, fmt.Errorf("%s: %w", op, err)
	}

	sizes := make([]int64, len(dirEntries))
	regular := make([]bool, len(dirEntries))
	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statConcurrency)

	for i, de := range dirEntries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			info, err := de.Info()
			if err != nil {
				failed.Add(1)

				return nil
			}

			if info.Mode().IsRegular() {
				sizes[i] = info.Size()
				regular[i] = true
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Listing{}, fmt.Errorf("%s: %w", op, err)
	}

	listing := Listing{Errors: int(failed.Load())}

	for i, de := range dirEntries {
		if !regular[i] {
			continue
		}

		listing.TotalBytes += sizes[i]

		base, ext, ok := Split(de.Name())
		if !ok || ext != ExtContainer {
			continue
		}

		entry := Entry{Base: base, Size: sizes[i]}
		if name, err := ParseName(base); err == nil {
			entry.Name = name
			entry.Parsed = true
		}

		listing.Entries = append(listing.Entries, entry)
	}

	sort.SliceStable(listing.Entries, func(i, j int) bool {
		a, b := listing.Entries[i], listing.Entries[j]
		switch {
		case a.Parsed && b.Parsed:
			return a.Name.Before(b.Name)
		case a.Parsed != b.Parsed:
			return a.Parsed
		default:
			return a.Base < b.Base
		}
	})

	return listing, nil
}

// ThumbnailState reports which thumbnails of base exist. Only a missing file
// counts as absent; any other stat failure is returned.
func (l Layout) ThumbnailState(base string) (still, animated bool, err error) {
	const op = "segment.ThumbnailState"

	still, err = exists(l.StillPath(base))
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", op, err)
	}

	animated, err = exists(l.AnimatedPath(base))
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", op, err)
	}

	return still, animated, nil
}

// EnsureDirs creates the recordings and thumbnails directories.
func (l Layout) EnsureDirs() error {
	const op = "segment.EnsureDirs"

	for _, dir := range []string{l.RecordingsDir(), l.ThumbnailsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	return nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, err
}
