package playback

import (
	"sync/atomic"
	"time"
)

// Clip is one materialized, playable audio resource: interleaved signed 16-bit samples.
type Clip struct {
	Codec      string
	SampleRate int
	Channels   int
	Samples    []int16

	onRelease func()
	released  atomic.Bool
}

// NewClip wraps decoded samples. onRelease runs once, on the first Release.
func NewClip(codec string, sampleRate int, channels int, samples []int16, onRelease func()) *Clip {
	return &Clip{
		Codec:      codec,
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    samples,
		onRelease:  onRelease,
	}
}

// Release frees the sample buffer. Only the first call has any effect; it
// reports whether this call performed the release.
func (c *Clip) Release() bool {
	if c == nil || !c.released.CompareAndSwap(false, true) {
		return false
	}
	c.Samples = nil
	if c.onRelease != nil {
		c.onRelease()
	}
	return true
}

// Released reports whether Release has run.
func (c *Clip) Released() bool {
	return c.released.Load()
}

// Duration is the playback length implied by the sample count.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}
