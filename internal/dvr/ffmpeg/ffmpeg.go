// Package ffmpeg translates recorder and thumbnail jobs into ffmpeg argument
// lists. It never runs anything.
package ffmpeg

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/zanzhit/camera_dvr/internal/dvr/segment"
	"github.com/zanzhit/camera_dvr/internal/lib/process"
)

const (
	DefaultBinary = "ffmpeg"

	stillOffset    = "00:00:15"
	thumbnailScale = "scale=200:-1"
	stillQuality   = "10"
	animatedRate   = "1"
	animatedSpeed  = "setpts=0.025*PTS"
)

// Camera is what the capture command needs to reach the camera's HTTP streams.
type Camera struct {
	Address  string
	Username string
	Password string
}

func (c Camera) VideoURL() string {
	return c.streamURL("videostream.cgi")
}

func (c Camera) AudioURL() string {
	return c.streamURL("videostream.asf")
}

func (c Camera) streamURL(endpoint string) string {
	return fmt.Sprintf("http://%s/%s?user=%s&pwd=%s",
		c.Address, endpoint, url.QueryEscape(c.Username), url.QueryEscape(c.Password))
}

type Translator struct {
	Binary string
	Layout segment.Layout
}

func New(binary string, layout segment.Layout) *Translator {
	if binary == "" {
		binary = DefaultBinary
	}

	return &Translator{
		Binary: binary,
		Layout: layout,
	}
}

// Capture remuxes the camera's MJPEG video and ASF audio without re-encoding
// into fixed-length containers. Wall-clock timestamps keep segment
// boundaries aligned to real time.
func (t *Translator) Capture(cam Camera, segmentLength time.Duration, start time.Time) process.Invocation {
	seconds := strconv.Itoa(int(segmentLength / time.Second))

	return process.Invocation{
		Name: t.Binary,
		Args: []string{
			"-use_wallclock_as_timestamps", "1",
			"-f", "mjpeg",
			"-i", cam.VideoURL(),
			"-i", cam.AudioURL(),
			"-map", "0:v",
			"-map", "1:a",
			"-acodec", "copy",
			"-vcodec", "copy",
			"-f", "segment",
			"-segment_time", seconds,
			"-reset_timestamps", "1",
			t.Layout.SegmentPattern(start),
		},
	}
}

// StillThumbnail grabs one frame 15 seconds into the segment.
func (t *Translator) StillThumbnail(base string) process.Invocation {
	return process.Invocation{
		Name: t.Binary,
		Args: []string{
			"-ss", stillOffset,
			"-i", t.Layout.ContainerPath(base),
			"-vframes", "1",
			"-q:v", stillQuality,
			"-vf", thumbnailScale,
			t.Layout.StillPath(base),
		},
	}
}

// AnimatedThumbnail samples one frame per second and plays them back 40x
// faster.
func (t *Translator) AnimatedThumbnail(base string) process.Invocation {
	return process.Invocation{
		Name: t.Binary,
		Args: []string{
			"-i", t.Layout.ContainerPath(base),
			"-r", animatedRate,
			"-filter:v", animatedSpeed,
			"-vf", thumbnailScale,
			t.Layout.AnimatedPath(base),
		},
	}
}
