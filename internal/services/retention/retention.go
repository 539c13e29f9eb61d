package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/zanzhit/camera_dvr/internal/dvr/segment"
	"github.com/zanzhit/camera_dvr/internal/lib/sl"
	"github.com/zanzhit/camera_dvr/internal/metrics"
)

const ListingReason = "evicted"

// Manager keeps one device's recordings under a byte limit by deleting the
// oldest segment together with its thumbnails.
type Manager struct {
	log      *slog.Logger
	deviceID string
	layout   segment.Layout
	notifier Notifier
}

type Notifier interface {
	RequestListing(ctx context.Context, deviceID, reason string) error
}

// Result describes one EnforceCapacity pass.
type Result struct {
	TotalBytes int64
	// Evicted is the base name of the deleted segment, empty when nothing
	// was over the limit.
	Evicted string
	Errors  int
}

func New(log *slog.Logger, deviceID string, layout segment.Layout, notifier Notifier) *Manager {
	return &Manager{
		log:      log,
		deviceID: deviceID,
		layout:   layout,
		notifier: notifier,
	}
}

// EnforceCapacity deletes at most one segment per call: the oldest one by
// capture time, regardless of its size. Failing to delete one of the three
// files does not stop the other two from being attempted.
func (m *Manager) EnforceCapacity(ctx context.Context, byteLimit int64) (Result, error) {
	const op = "services.retention.EnforceCapacity"

	log := m.log.With(
		slog.String("op", op),
		slog.String("device_id", m.deviceID),
	)

	listing, err := m.layout.Scan(ctx)
	if err != nil {
		log.Error("failed to scan recordings", sl.Err(err))

		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	res := Result{
		TotalBytes: listing.TotalBytes,
		Errors:     listing.Errors,
	}

	metrics.RecordingsBytes.WithLabelValues(m.deviceID).Set(float64(listing.TotalBytes))
	defer func() {
		if res.Errors > 0 {
			metrics.PassErrorsTotal.WithLabelValues(m.deviceID, metrics.PassEviction).Add(float64(res.Errors))
		}
	}()

	if listing.TotalBytes < byteLimit {
		log.Debug("recordings under capacity",
			slog.Int64("total_bytes", listing.TotalBytes),
			slog.Int64("byte_limit", byteLimit),
		)

		return res, nil
	}

	oldest, ok := listing.Oldest()
	if !ok {
		log.Warn("capacity exceeded but no segment to evict", slog.Int64("total_bytes", listing.TotalBytes))

		return res, nil
	}

	removed, err := m.remove(oldest.Base)
	if err != nil {
		res.Errors += len(unwrapJoined(err))
		log.Warn("failed to delete some segment files", slog.String("segment", oldest.Base), sl.Err(err))
	}

	if !removed {
		return res, nil
	}

	res.Evicted = oldest.Base
	metrics.SegmentsEvictedTotal.WithLabelValues(m.deviceID).Inc()

	log.Info("segment evicted",
		slog.String("segment", oldest.Base),
		slog.Int64("segment_bytes", oldest.Size),
		slog.Int64("total_bytes", listing.TotalBytes),
		slog.Int64("byte_limit", byteLimit),
	)

	if err := m.notifier.RequestListing(ctx, m.deviceID, ListingReason); err != nil {
		log.Warn("failed to request listing", sl.Err(err))
	}

	return res, nil
}

// remove reports whether the container is gone afterwards, along with every
// deletion failure.
func (m *Manager) remove(base string) (bool, error) {
	var errList []error

	removed := true
	if err := removeFile(m.layout.ContainerPath(base)); err != nil {
		removed = false
		errList = append(errList, err)
	}

	for _, path := range []string{m.layout.AnimatedPath(base), m.layout.StillPath(base)} {
		if err := removeFile(path); err != nil {
			errList = append(errList, err)
		}
	}

	return removed, errors.Join(errList...)
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

func unwrapJoined(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}

	return []error{err}
}
