package thumbnails

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/zanzhit/camera_dvr/internal/dvr/segment"
	"github.com/zanzhit/camera_dvr/internal/lib/process"
	"github.com/zanzhit/camera_dvr/internal/lib/sl"
	"github.com/zanzhit/camera_dvr/internal/metrics"
)

const ListingReason = "thumbnails"

type Scheduler struct {
	log      *slog.Logger
	deviceID string
	layout   segment.Layout
	commands CommandBuilder
	launcher process.Launcher
	notifier Notifier

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

type CommandBuilder interface {
	StillThumbnail(base string) process.Invocation
	AnimatedThumbnail(base string) process.Invocation
}

type Notifier interface {
	RequestListing(ctx context.Context, deviceID, reason string) error
}

type Result struct {
	Scanned int
	// Started lists the segments whose thumbnail generation began.
	Started []string
	Errors  int
}

func New(
	log *slog.Logger,
	deviceID string,
	layout segment.Layout,
	commands CommandBuilder,
	launcher process.Launcher,
	notifier Notifier,
) *Scheduler {
	return &Scheduler{
		log:      log,
		deviceID: deviceID,
		layout:   layout,
		commands: commands,
		launcher: launcher,
		notifier: notifier,
		inFlight: make(map[string]struct{}),
	}
}

// BuildMissing starts thumbnail generation for every segment of at least
// threshold bytes that has neither thumbnail yet. A zero threshold
// covers every segment, which is how the tail of a recording is flushed
// after the recorder stops.
func (s *Scheduler) BuildMissing(ctx context.Context, threshold int64) (Result, error) {
	const op = "services.thumbnails.BuildMissing"

	log := s.log.With(
		slog.String("op", op),
		slog.String("device_id", s.deviceID),
		slog.Int64("threshold", threshold),
	)

	listing, err := s.layout.Scan(ctx)
	if err != nil {
		log.Error("failed to scan recordings", sl.Err(err))

		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	res := Result{
		Scanned: len(listing.Entries),
		Errors:  listing.Errors,
	}

	for _, entry := range listing.Entries {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%s: %w", op, err)
		}

		if entry.Size < threshold {
			continue
		}

		still, animated, err := s.layout.ThumbnailState(entry.Base)
		if err != nil {
			res.Errors++
			log.Warn("failed to check thumbnail", slog.String("segment", entry.Base), sl.Err(err))

			continue
		}

		if still {
			continue
		}

		// A segment shorter than the still offset yields only the animated
		// image. Its presence marks a finished attempt; ffmpeg would not
		// overwrite it on a retry anyway.
		if animated {
			log.Debug("segment has no still frame, skipping", slog.String("segment", entry.Base))

			continue
		}

		if s.generate(log, entry.Base) {
			res.Started = append(res.Started, entry.Base)
		}
	}

	if res.Errors > 0 {
		metrics.PassErrorsTotal.WithLabelValues(s.deviceID, metrics.PassThumbnails).Add(float64(res.Errors))
	}

	if len(res.Started) > 0 {
		if err := s.notifier.RequestListing(ctx, s.deviceID, ListingReason); err != nil {
			log.Warn("failed to request listing", sl.Err(err))
		}
	}

	return res, nil
}

// generate launches both thumbnail commands for base unless a previous
// launch is still running.
func (s *Scheduler) generate(log *slog.Logger, base string) bool {
	s.mu.Lock()
	if _, busy := s.inFlight[base]; busy {
		s.mu.Unlock()

		return false
	}
	s.inFlight[base] = struct{}{}
	s.mu.Unlock()

	if err := os.MkdirAll(s.layout.ThumbnailsDir(), 0o755); err != nil {
		log.Error("failed to create thumbnails directory", sl.Err(err))
		s.release(base)

		return false
	}

	log.Info("creating thumbnails", slog.String("segment", base))

	var procs []process.Process
	for _, inv := range []process.Invocation{
		s.commands.StillThumbnail(base),
		s.commands.AnimatedThumbnail(base),
	} {
		p, err := s.launcher.Start(inv)
		if err != nil {
			log.Error("failed to start thumbnail command", slog.String("segment", base), sl.Err(err))

			continue
		}
		procs = append(procs, p)
	}

	if len(procs) == 0 {
		s.release(base)

		return false
	}

	metrics.ThumbnailsStartedTotal.WithLabelValues(s.deviceID).Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(base)

		for _, p := range procs {
			<-p.Done()
			if err := p.Err(); err != nil {
				log.Warn("thumbnail command failed", slog.String("segment", base), sl.Err(err))
			}
		}
	}()

	return true
}

func (s *Scheduler) release(base string) {
	s.mu.Lock()
	delete(s.inFlight, base)
	s.mu.Unlock()
}

// Wait blocks until every launched generation has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
