// Package segment knows how recorded segments and their thumbnails are named
// and where they live on disk.
package segment

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zanzhit/camera_dvr/internal/domain/errs"
)

const (
	ExtStill     = "jpg"
	ExtAnimated  = "gif"
	ExtContainer = "mkv"

	recordingsDir = "dvr"
	thumbnailsDir = "thumb"

	nameLayout = "2006-01-02-15-04"
)

var recognized = map[string]struct{}{
	ExtStill:     {},
	ExtAnimated:  {},
	ExtContainer: {},
}

// Split returns the base name and extension of a directory entry when the
// extension is one the recorder produces.
func Split(entry string) (base, ext string, ok bool) {
	dot := strings.LastIndexByte(entry, '.')
	if dot <= 0 || dot == len(entry)-1 {
		return "", "", false
	}

	ext = entry[dot+1:]
	if _, ok := recognized[ext]; !ok {
		return "", "", false
	}

	return entry[:dot], ext, true
}

// ParseBaseName returns the stem of a recognized artifact name.
func ParseBaseName(entry string) (string, bool) {
	base, _, ok := Split(entry)

	return base, ok
}

// Name is the orderable identity of a segment: the minute the capture
// session started and the segment index within that session.
type Name struct {
	Time time.Time
	Seq  int
}

// ParseName accepts both zero-padded names and the legacy unpadded form
// (2024-1-2-3-4-000).
func ParseName(base string) (Name, error) {
	const op = "segment.ParseName"

	parts := strings.Split(base, "-")
	if len(parts) != 6 {
		return Name{}, fmt.Errorf("%s: %q: %w", op, base, errs.ErrInvalidSegmentName)
	}

	var fields [6]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Name{}, fmt.Errorf("%s: %q: %w", op, base, errs.ErrInvalidSegmentName)
		}
		fields[i] = n
	}

	year, month, day, hour, minute, seq := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5]
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 {
		return Name{}, fmt.Errorf("%s: %q: %w", op, base, errs.ErrInvalidSegmentName)
	}

	return Name{
		Time: time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.Local),
		Seq:  seq,
	}, nil
}

func (n Name) String() string {
	return fmt.Sprintf("%s-%03d", n.Time.Format(nameLayout), n.Seq)
}

func (n Name) Before(o Name) bool {
	if !n.Time.Equal(o.Time) {
		return n.Time.Before(o.Time)
	}

	return n.Seq < o.Seq
}

// Layout is the fixed on-disk arrangement under a storage root: containers
// in <root>/dvr, thumbnails in <root>/thumb, sharing one base name.
type Layout struct {
	Root string
}

func (l Layout) RecordingsDir() string {
	return filepath.Join(l.Root, recordingsDir)
}

func (l Layout) ThumbnailsDir() string {
	return filepath.Join(l.Root, thumbnailsDir)
}

func (l Layout) ContainerPath(base string) string {
	return filepath.Join(l.RecordingsDir(), base+"."+ExtContainer)
}

func (l Layout) StillPath(base string) string {
	return filepath.Join(l.ThumbnailsDir(), base+"."+ExtStill)
}

func (l Layout) AnimatedPath(base string) string {
	return filepath.Join(l.ThumbnailsDir(), base+"."+ExtAnimated)
}

// SegmentPath is the path of segment seq of a capture session started at start.
func (l Layout) SegmentPath(start time.Time, seq int) string {
	return l.ContainerPath(Name{Time: start, Seq: seq}.String())
}

// SegmentPattern is the output pattern handed to the segment muxer, which
// substitutes the sequence number itself.
func (l Layout) SegmentPattern(start time.Time) string {
	return filepath.Join(l.RecordingsDir(), start.Format(nameLayout)+"-%03d."+ExtContainer)
}
