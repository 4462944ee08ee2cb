package usbengine

import (
	"sync/atomic"
	"time"

	"ploytecd/internal/shmring"
)

// SampleClock tracks hwSampleTime and publishes (sampleTime, hostTime)
// anchors to a shmring.TimestampCell on interval-boundary crossings
// (spec.md §4.3 "Timestamp publication").
type SampleClock struct {
	hwSampleTime   atomic.Uint64
	updateInterval uint64
	cell           *shmring.TimestampCell
	now            func() time.Time
}

// NewSampleClock builds a clock that publishes to cell every
// updateIntervalFrames. now defaults to time.Now; tests may override
// it for determinism.
func NewSampleClock(cell *shmring.TimestampCell, updateIntervalFrames uint64) *SampleClock {
	return &SampleClock{cell: cell, updateInterval: updateIntervalFrames, now: time.Now}
}

// Reset zeroes hwSampleTime (spec.md §4.3 "Streaming start").
func (c *SampleClock) Reset() {
	c.hwSampleTime.Store(0)
}

// SampleTime returns the current hardware sample time.
func (c *SampleClock) SampleTime() uint64 {
	return c.hwSampleTime.Load()
}

// Advance adds framesPerPacket to hwSampleTime after a successful
// PCM-out completion and publishes a new timestamp anchor iff the
// addition crosses a multiple-of-updateInterval boundary (spec.md §8
// scenario S3: "((old % I) + F) >= I", equivalently old/I != new/I).
func (c *SampleClock) Advance(framesPerPacket uint64) {
	old := c.hwSampleTime.Load()
	next := old + framesPerPacket
	c.hwSampleTime.Store(next)

	if c.updateInterval == 0 {
		return
	}
	if old/c.updateInterval == next/c.updateInterval {
		return
	}
	hostTime := uint64(c.now().UnixNano())
	c.cell.Publish(next, hostTime)
}
