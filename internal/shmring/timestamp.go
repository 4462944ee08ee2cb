package shmring

import (
	"runtime"
	"sync/atomic"
)

// TimestampCell is the sequence-locked (sampleTime, hostTime) pair
// published by the USB engine and read by the audio bridge (spec.md
// §3). The writer protocol is: load seq; store seq+1 (release); store
// fields (relaxed); store seq+2 (release). The reader protocol: load
// seq (acquire) until even; read fields (relaxed); reload seq and
// retry if it changed.
type TimestampCell struct {
	seq        atomic.Uint32
	sampleTime atomic.Uint64
	hostTime   atomic.Uint64
}

// Publish writes a new (sampleTime, hostTime) anchor. Only the USB
// engine (the cell's sole writer, per spec.md §5) may call this.
func (c *TimestampCell) Publish(sampleTime, hostTime uint64) {
	seq := c.seq.Load()
	c.seq.Store(seq + 1)
	c.sampleTime.Store(sampleTime)
	c.hostTime.Store(hostTime)
	c.seq.Store(seq + 2)
}

// Read performs the seqlock reader protocol, spinning until it
// observes a stable even sequence. It never blocks indefinitely in
// practice: the writer's critical section is three stores long.
func (c *TimestampCell) Read() (sampleTime, hostTime uint64) {
	for {
		seq1 := c.seq.Load()
		if seq1&1 != 0 {
			runtime.Gosched()
			continue
		}
		sampleTime = c.sampleTime.Load()
		hostTime = c.hostTime.Load()
		seq2 := c.seq.Load()
		if seq1 == seq2 {
			return sampleTime, hostTime
		}
		runtime.Gosched()
	}
}
