package thumbnails

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zanzhit/camera_dvr/internal/dvr/ffmpeg"
	"github.com/zanzhit/camera_dvr/internal/dvr/segment"
	"github.com/zanzhit/camera_dvr/internal/lib/logger/handlers/slogdiscard"
	"github.com/zanzhit/camera_dvr/internal/lib/process"
)

type fakeProcess struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) Pid() int              { return 42 }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Err() error            { return p.err }

func (p *fakeProcess) Kill() error {
	p.exit()

	return nil
}

func (p *fakeProcess) exit() {
	p.once.Do(func() { close(p.done) })
}

type fakeLauncher struct {
	mu      sync.Mutex
	started []process.Invocation
	procs   []*fakeProcess
	err     error
}

func (l *fakeLauncher) Start(inv process.Invocation) (process.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return nil, l.err
	}

	p := newFakeProcess()
	l.started = append(l.started, inv)
	l.procs = append(l.procs, p)

	return p, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.started)
}

func (l *fakeLauncher) exitAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.procs {
		p.exit()
	}
}

type fakeNotifier struct {
	mu      sync.Mutex
	reasons []string
}

func (n *fakeNotifier) RequestListing(_ context.Context, _, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.reasons = append(n.reasons, reason)

	return nil
}

type fixture struct {
	scheduler *Scheduler
	layout    segment.Layout
	launcher  *fakeLauncher
	notifier  *fakeNotifier
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	layout := segment.Layout{Root: t.TempDir()}
	require.NoError(t, os.MkdirAll(layout.RecordingsDir(), 0o755))

	launcher := &fakeLauncher{}
	notifier := &fakeNotifier{}
	s := New(slogdiscard.NewDiscardLogger(), "cam1", layout, ffmpeg.New("", layout), launcher, notifier)

	t.Cleanup(func() {
		launcher.exitAll()
		s.Wait()
	})

	return fixture{scheduler: s, layout: layout, launcher: launcher, notifier: notifier}
}

func (f fixture) writeContainer(t *testing.T, base string, size int) {
	t.Helper()

	require.NoError(t, os.WriteFile(f.layout.ContainerPath(base), make([]byte, size), 0o644))
}

func TestBuildMissing_SkipsSegmentsBelowThreshold(t *testing.T) {
	f := newFixture(t)

	f.writeContainer(t, "2024-01-01-00-00-000", 10)
	f.writeContainer(t, "2024-01-01-00-10-000", 99)

	res, err := f.scheduler.BuildMissing(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Scanned)
	assert.Empty(t, res.Started)
	assert.Zero(t, f.launcher.count())
	assert.Empty(t, f.notifier.reasons)
}

func TestBuildMissing_StartsBothCommands(t *testing.T) {
	f := newFixture(t)

	f.writeContainer(t, "2024-01-01-00-00-000", 100)

	res, err := f.scheduler.BuildMissing(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-01-01-00-00-000"}, res.Started)
	require.Equal(t, 2, f.launcher.count())
	assert.Equal(t, f.layout.StillPath("2024-01-01-00-00-000"), last(f.launcher.started[0].Args))
	assert.Equal(t, f.layout.AnimatedPath("2024-01-01-00-00-000"), last(f.launcher.started[1].Args))
	assert.DirExists(t, f.layout.ThumbnailsDir())
	assert.Equal(t, []string{ListingReason}, f.notifier.reasons)
}

func TestBuildMissing_SkipsExistingStill(t *testing.T) {
	f := newFixture(t)

	f.writeContainer(t, "2024-01-01-00-00-000", 100)
	require.NoError(t, os.MkdirAll(f.layout.ThumbnailsDir(), 0o755))
	require.NoError(t, os.WriteFile(f.layout.StillPath("2024-01-01-00-00-000"), []byte("jpg"), 0o644))

	res, err := f.scheduler.BuildMissing(context.Background(), 0)
	require.NoError(t, err)

	assert.Empty(t, res.Started)
	assert.Zero(t, f.launcher.count())
}

func TestBuildMissing_ShortSegmentIsNotRetried(t *testing.T) {
	f := newFixture(t)

	f.writeContainer(t, "2024-01-01-00-00-000", 10)

	_, err := f.scheduler.BuildMissing(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 2, f.launcher.count())

	// Too short for the still offset: only the animated image came out.
	require.NoError(t, os.WriteFile(f.layout.AnimatedPath("2024-01-01-00-00-000"), []byte("gif"), 0o644))
	f.launcher.exitAll()
	f.scheduler.Wait()

	res, err := f.scheduler.BuildMissing(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, res.Started)
	assert.Equal(t, 2, f.launcher.count())
}

func TestBuildMissing_InFlightGuard(t *testing.T) {
	f := newFixture(t)

	f.writeContainer(t, "2024-01-01-00-00-000", 100)

	_, err := f.scheduler.BuildMissing(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 2, f.launcher.count())

	// ffmpeg has not produced the still yet; a second pass must not duplicate it.
	res, err := f.scheduler.BuildMissing(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, res.Started)
	assert.Equal(t, 2, f.launcher.count())

	// Once both commands exit without output the segment is eligible again.
	f.launcher.exitAll()
	f.scheduler.Wait()

	res, err = f.scheduler.BuildMissing(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01-00-00-000"}, res.Started)
	assert.Equal(t, 4, f.launcher.count())
}

func TestBuildMissing_ZeroThresholdForcesAll(t *testing.T) {
	f := newFixture(t)

	f.writeContainer(t, "2024-01-01-00-20-000", 0)
	f.writeContainer(t, "2024-01-01-00-00-000", 5)
	f.writeContainer(t, "2024-01-01-00-10-000", 1000)

	res, err := f.scheduler.BuildMissing(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"2024-01-01-00-00-000",
		"2024-01-01-00-10-000",
		"2024-01-01-00-20-000",
	}, res.Started)
	assert.Equal(t, 6, f.launcher.count())
	assert.Len(t, f.notifier.reasons, 1)
}

func TestBuildMissing_LaunchFailureReleasesSegment(t *testing.T) {
	f := newFixture(t)
	f.launcher.err = errors.New("no ffmpeg")

	f.writeContainer(t, "2024-01-01-00-00-000", 100)

	res, err := f.scheduler.BuildMissing(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, res.Started)
	assert.Empty(t, f.notifier.reasons)

	f.launcher.err = nil

	res, err = f.scheduler.BuildMissing(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01-00-00-000"}, res.Started)
}

func TestBuildMissing_IgnoresUnrecognizedFiles(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, os.WriteFile(f.layout.RecordingsDir()+"/.partial", []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(f.layout.RecordingsDir()+"/notes.txt", []byte("x"), 0o644))

	res, err := f.scheduler.BuildMissing(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, res.Started)
	assert.Zero(t, f.launcher.count())
}

func last(args []string) string {
	if len(args) == 0 {
		return ""
	}

	return args[len(args)-1]
}
