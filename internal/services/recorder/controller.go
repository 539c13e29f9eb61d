package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v3"
	"golang.org/x/sync/singleflight"

	"github.com/zanzhit/camera_dvr/internal/domain/errs"
	"github.com/zanzhit/camera_dvr/internal/domain/models"
	"github.com/zanzhit/camera_dvr/internal/dvr/ffmpeg"
	"github.com/zanzhit/camera_dvr/internal/dvr/segment"
	"github.com/zanzhit/camera_dvr/internal/lib/process"
	"github.com/zanzhit/camera_dvr/internal/lib/sl"
	"github.com/zanzhit/camera_dvr/internal/metrics"
	"github.com/zanzhit/camera_dvr/internal/services/retention"
	"github.com/zanzhit/camera_dvr/internal/services/thumbnails"
)

// Device is the immutable per-device configuration a Controller runs with.
type Device struct {
	ID             string
	Title          string
	Camera         ffmpeg.Camera
	Layout         segment.Layout
	Delay          time.Duration
	SegmentLength  time.Duration
	ByteLimit      int64
	ThumbByteLimit int64
}

type StateProvider interface {
	State(ctx context.Context, deviceID string) (models.DeviceState, error)
}

type CaptureBuilder interface {
	Capture(cam ffmpeg.Camera, segmentLength time.Duration, start time.Time) process.Invocation
}

type Evictor interface {
	EnforceCapacity(ctx context.Context, byteLimit int64) (retention.Result, error)
}

type Thumbnailer interface {
	BuildMissing(ctx context.Context, threshold int64) (thumbnails.Result, error)
	// Wait blocks until the thumbnail commands already launched have exited.
	Wait()
}

// Controller runs at most one recorder process for a device and drives the
// retention and thumbnail passes while it records.
type Controller struct {
	log      *slog.Logger
	device   Device
	states   StateProvider
	commands CaptureBuilder
	launcher process.Launcher
	evictor  Evictor
	thumbs   Thumbnailer
	now      func() time.Time

	mu            sync.Mutex
	session       *activeSession
	lastEviction  time.Time
	lastThumbnail time.Time

	passes    singleflight.Group
	wg        sync.WaitGroup
	observers sync.WaitGroup
}

type activeSession struct {
	models.Session
	proc process.Process
}

type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

func New(
	log *slog.Logger,
	device Device,
	states StateProvider,
	commands CaptureBuilder,
	launcher process.Launcher,
	evictor Evictor,
	thumbs Thumbnailer,
	opts ...Option,
) *Controller {
	c := &Controller{
		log:      log.With(slog.String("device_id", device.ID)),
		device:   device,
		states:   states,
		commands: commands,
		launcher: launcher,
		evictor:  evictor,
		thumbs:   thumbs,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Controller) Device() Device {
	return c.device
}

// Tick reads the device state, starts or stops the recorder accordingly and,
// while recording, dispatches the passes whose delay has elapsed. Passes run
// in the background; Tick does not wait for them.
func (c *Controller) Tick(ctx context.Context) {
	const op = "services.recorder.Tick"

	log := c.log.With(slog.String("op", op))

	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.states.State(ctx, c.device.ID)
	switch {
	case errors.Is(err, errs.ErrDeviceNotFound):
		log.Debug("device has no state yet")
	case err != nil:
		log.Error("failed to read device state", sl.Err(err))
	case state.Value == models.StateOn && c.session == nil:
		c.start(ctx)
	case state.Value == models.StateOff && c.session != nil:
		c.stop(ctx)
	case state.Value != models.StateOn && state.Value != models.StateOff:
		log.Warn("unknown device state", slog.String("value", state.Value))
	}

	if c.session == nil {
		return
	}

	now := c.now()

	if now.Sub(c.lastEviction) >= c.device.Delay {
		c.dispatchEviction(ctx)
		c.lastEviction = now
	}

	if now.Sub(c.lastThumbnail) >= c.device.Delay {
		c.dispatchThumbnails(ctx, c.device.ThumbByteLimit)
		c.lastThumbnail = now
	}
}

// start must be called with c.mu held.
func (c *Controller) start(ctx context.Context) {
	const op = "services.recorder.start"

	log := c.log.With(slog.String("op", op))

	startTime := c.now()
	inv := c.commands.Capture(c.device.Camera, c.device.SegmentLength, startTime)

	if err := c.device.Layout.EnsureDirs(); err != nil {
		log.Error("failed to create recording directories", sl.Err(err))

		return
	}

	proc, err := c.launcher.Start(inv)
	if err != nil {
		log.Error("failed to start recorder", sl.Err(err))

		return
	}

	s := &activeSession{
		Session: models.Session{
			SessionID: shortuuid.New(),
			DeviceID:  c.device.ID,
			StartTime: startTime,
			Pid:       proc.Pid(),
			Pattern:   c.device.Layout.SegmentPattern(startTime),
		},
		proc: proc,
	}
	c.session = s

	metrics.RecorderStartsTotal.WithLabelValues(c.device.ID).Inc()
	metrics.RecordingActive.WithLabelValues(c.device.ID).Set(1)

	log.Info("recorder started",
		slog.String("session_id", s.SessionID),
		slog.Int("pid", s.Pid),
		slog.String("title", c.device.Title),
	)

	c.observers.Add(1)
	go c.observe(ctx, s)
}

// stop must be called with c.mu held.
func (c *Controller) stop(ctx context.Context) {
	const op = "services.recorder.stop"

	s := c.session

	log := c.log.With(
		slog.String("op", op),
		slog.String("session_id", s.SessionID),
	)

	if err := s.proc.Kill(); err != nil {
		log.Warn("failed to kill recorder", sl.Err(err))
	}

	c.session = nil

	metrics.RecorderExitsTotal.WithLabelValues(c.device.ID, metrics.ExitRequested).Inc()
	metrics.RecordingActive.WithLabelValues(c.device.ID).Set(0)

	log.Info("recorder stopped")

	c.dispatchThumbnails(ctx, 0)
	c.lastThumbnail = c.now()
}

// observe clears the session when the recorder exits on its own. Exits
// caused by stop find the session already replaced and are ignored.
func (c *Controller) observe(ctx context.Context, s *activeSession) {
	defer c.observers.Done()

	<-s.proc.Done()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != s {
		return
	}

	c.session = nil

	metrics.RecorderExitsTotal.WithLabelValues(c.device.ID, metrics.ExitUnsolicited).Inc()
	metrics.RecordingActive.WithLabelValues(c.device.ID).Set(0)

	c.log.Warn("recorder exited unexpectedly",
		slog.String("session_id", s.SessionID),
		slog.Int("pid", s.Pid),
		sl.Err(s.proc.Err()),
	)

	c.dispatchThumbnails(ctx, 0)
	c.lastThumbnail = c.now()
}

func (c *Controller) dispatchEviction(ctx context.Context) {
	c.dispatch(ctx, metrics.PassEviction, func(ctx context.Context) error {
		_, err := c.evictor.EnforceCapacity(ctx, c.device.ByteLimit)

		return err
	})
}

func (c *Controller) dispatchThumbnails(ctx context.Context, threshold int64) {
	// The threshold is part of the key so a flush never joins a regular pass
	// that would skip small segments.
	key := metrics.PassThumbnails + "/" + strconv.FormatInt(threshold, 10)

	c.dispatch(ctx, key, func(ctx context.Context) error {
		_, err := c.thumbs.BuildMissing(ctx, threshold)

		return err
	})
}

// dispatch runs fn in the background. A call for a key whose previous pass
// is still running shares that pass instead of starting another.
func (c *Controller) dispatch(ctx context.Context, key string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		_, err, shared := c.passes.Do(key, func() (any, error) {
			return nil, fn(ctx)
		})
		if err != nil && !shared {
			c.log.Warn("pass failed", slog.String("pass", key), sl.Err(err))
		}
	}()
}

// Session returns a copy of the running session.
func (c *Controller) Session() (models.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return models.Session{}, false
	}

	return c.session.Session, true
}

func (c *Controller) Status() models.DeviceStatus {
	status := models.DeviceStatus{
		DeviceID: c.device.ID,
		Title:    c.device.Title,
	}

	if s, ok := c.Session(); ok {
		status.Recording = true
		status.Session = &s
	}

	return status
}

// Recordings lists the device's segments oldest first along with which
// thumbnails each one has.
func (c *Controller) Recordings(ctx context.Context) (models.Recordings, error) {
	const op = "services.recorder.Recordings"

	listing, err := c.device.Layout.Scan(ctx)
	if err != nil {
		return models.Recordings{}, fmt.Errorf("%s: %w", op, err)
	}

	rec := models.Recordings{
		DeviceID:   c.device.ID,
		TotalBytes: listing.TotalBytes,
		Segments:   make([]models.Segment, 0, len(listing.Entries)),
	}

	for _, e := range listing.Entries {
		seg := models.Segment{
			Name: e.Base,
			Size: e.Size,
		}

		if e.Parsed {
			start := e.Name.Time
			seg.StartTime = &start
		}

		seg.Still, seg.Animated, err = c.device.Layout.ThumbnailState(e.Base)
		if err != nil {
			c.log.Warn("failed to check thumbnails", slog.String("op", op), slog.String("segment", e.Base), sl.Err(err))
		}

		rec.Segments = append(rec.Segments, seg)
	}

	return rec, nil
}

// Wait blocks until every dispatched pass has returned. It does not wait for
// the recorder itself.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Shutdown stops a running recorder and waits for it to exit, for the passes
// it left behind and for the thumbnail commands those passes launched.
func (c *Controller) Shutdown(ctx context.Context) error {
	const op = "services.recorder.Shutdown"

	c.mu.Lock()
	if c.session != nil {
		c.stop(ctx)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.observers.Wait()
		c.wg.Wait()
		c.thumbs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}
