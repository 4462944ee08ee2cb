package usbengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	charmlog "github.com/charmbracelet/log"

	"ploytecd/internal/shmring"
	"ploytecd/internal/wire"
)

// exclusiveOpenRetries and exclusiveOpenBackoff bound openExclusive's
// retry loop: up to 5 retries, 100 ms apart (spec.md §4.3).
const (
	exclusiveOpenRetries = 5
	exclusiveOpenBackoff = 100 * time.Millisecond
)

// shutdownDrain is how long the engine waits for in-flight completions
// to drain after aborting the pipes (spec.md §4.3 "Shutdown").
const shutdownDrain = 100 * time.Millisecond

// TransportOpener opens a Transport for one matched device. Production
// code passes OpenGousbTransport; tests pass a fake.
type TransportOpener func(vid, pid uint16) (Transport, error)

// Engine is the top-level USB Engine component (C3): it owns the
// hotplug lifecycle, runs the control-protocol sequencer, and drives
// the three packet pumps against a shared memory region.
type Engine struct {
	profile       Profile
	region        *shmring.Region
	openTransport TransportOpener
	log           *charmlog.Logger

	state    atomic.Int32
	shutdown atomic.Bool

	// resetting marks a session that is being restored across a
	// device re-attach rather than torn down for good (supplemented
	// from original_source/'s reattach handling; see DESIGN.md).
	resetting atomic.Bool

	mu        sync.Mutex
	transport Transport
	pcmIntf   Interface
	midiIntf  Interface
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	clock     *SampleClock
	layout    wire.Layout

	lastInputCompletion atomic.Int64
}

// NewEngine builds an Engine bound to an already-created shared
// region. The engine takes ownership of the region: Shutdown closes
// it, so the caller must not close it again afterwards.
func NewEngine(profile Profile, region *shmring.Region, opener TransportOpener, logger *charmlog.Logger) *Engine {
	if logger == nil {
		logger = charmlog.Default()
	}
	e := &Engine{profile: profile, region: region, openTransport: opener, log: logger}
	e.state.Store(int32(StateIdle))
	return e
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// StateName returns the current lifecycle state's name, for
// diagnostics surfaces that want a plain string (internal/diag).
func (e *Engine) StateName() string {
	return e.State().String()
}

// HandleDeviceMatched implements the deviceMatched(service) hotplug
// event (spec.md §4.3 "Hotplug lifecycle").
func (e *Engine) HandleDeviceMatched(vid, pid uint16) error {
	if !matchesProfile(vid, pid) {
		return nil
	}
	if e.shutdown.Load() {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.log.Info("device matched", "vid", fmt.Sprintf("%#04x", vid), "pid", fmt.Sprintf("%#04x", pid))

	transport, err := e.openExclusive(vid, pid)
	if err != nil {
		e.log.Error("enumeration failed: exclusive open", "err", err)
		return fmt.Errorf("%w: %v", ErrEnumerationFailed, err)
	}
	e.transport = transport
	e.state.Store(int32(StateDeviceOpened))

	seq := &Sequencer{Transport: transport, Profile: e.profile}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	result, err := seq.Enumerate(ctx)
	cancel()
	if err != nil {
		e.log.Error("enumeration failed", "err", err)
		transport.Close()
		e.transport = nil
		e.state.Store(int32(StateIdle))
		return err
	}
	e.pcmIntf = result.PCMInterface
	e.midiIntf = result.MIDIIntf
	e.layout = layoutFor(e.profile, result.Mode)
	e.state.Store(int32(StateConfigured))

	if e.resetting.Swap(false) {
		e.log.Info("session restored after engine-initiated reset",
			"sessionId", e.region.Header.SessionID.Load())
	} else {
		e.log.Info("enumeration complete",
			"firmware", fmt.Sprintf("%d.%d.%d", result.Firmware.Major, result.Firmware.Minor, result.Firmware.Patch),
			"mode", result.Mode, "sampleRate", result.SampleRate)
	}

	e.region.Header.VendorID.Store(uint32(vid))
	e.region.Header.ProductID.Store(uint32(pid))
	e.region.Audio.SampleRate.Store(result.SampleRate)
	deviceFlags := uint32(0)
	if result.Mode == wire.ModeBulk {
		deviceFlags |= 1
	}
	e.region.Audio.DeviceFlags.Store(deviceFlags)
	e.region.Audio.FramesPerPacket.Store(wire.FramesPerPacket)
	e.region.Audio.UpdateIntervalFrames.Store(UpdateIntervalFrames)
	e.region.Audio.OutputBytesPerFrame.Store(wire.EncodedFrameBytes)
	e.region.Audio.InputBytesPerFrame.Store(wire.DecodedFrameBytes)

	e.startStreaming(result)
	return nil
}

// openExclusive opens the device, retrying up to exclusiveOpenRetries
// times with exclusiveOpenBackoff between attempts. Every opener error
// is retried; the kind of error is not inspected.
func (e *Engine) openExclusive(vid, pid uint16) (Transport, error) {
	var lastErr error
	for attempt := 0; attempt <= exclusiveOpenRetries; attempt++ {
		transport, err := e.openTransport(vid, pid)
		if err == nil {
			return transport, nil
		}
		lastErr = err
		if attempt < exclusiveOpenRetries {
			e.log.Warn("exclusive open failed, retrying", "attempt", attempt+1, "err", err)
			time.Sleep(exclusiveOpenBackoff)
		}
	}
	return nil, lastErr
}

// startStreaming implements spec.md §4.3's "Streaming start": pre-fill
// the output buffer, reset the clock and timestamp cell, and start one
// pump goroutine per pipe (PCM-out, PCM-in, MIDI-in). Each pump keeps a
// single transfer in flight at a time; the PCM pumps submit slot
// urbCount first and advance by one slot per completion, so slots
// 0..urbCount-1 are not submitted at start.
func (e *Engine) startStreaming(result *EnumerationResult) {
	e.layout.ClearOutput(e.region.OutputBuffer)

	e.region.Audio.Timestamp.Publish(0, 0)
	e.clock = NewSampleClock(&e.region.Audio.Timestamp, uint64(e.region.Audio.UpdateIntervalFrames.Load()))
	e.clock.Reset()

	e.region.Audio.DriverReady.Store(false)
	e.region.Audio.HardwarePresent.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.shutdown.Store(false)

	outPump := &pcmOutPump{
		pipe: result.PCMOut, layout: e.layout, ring: e.region.OutputBuffer,
		midiOut: e.region.MIDIOut, clock: e.clock,
		urbCount: e.profile.URBCount, numPackets: e.profile.NumPackets,
		shutdown: &e.shutdown,
	}
	inPump := &pcmInPump{
		pipe: result.PCMIn, ring: e.region.InputBuffer, maxPacket: e.profile.MaxPacketSize,
		urbCount: e.profile.URBCount, numPackets: e.profile.NumPackets,
		shutdown: &e.shutdown,
		onComplete: func() { e.lastInputCompletion.Store(time.Now().UnixNano()) },
	}
	midiPump := &midiInPump{
		pipe: result.MIDIIn, midiIn: e.region.MIDIIn, shutdown: &e.shutdown,
		onOverflow: func() { e.log.Warn("midi-in ring overflow, byte dropped") },
	}

	e.wg.Add(3)
	go func() { defer e.wg.Done(); outPump.run(ctx) }()
	go func() { defer e.wg.Done(); inPump.run(ctx) }()
	go func() { defer e.wg.Done(); midiPump.run(ctx) }()

	e.state.Store(int32(StateStreaming))
	e.region.Audio.DriverReady.Store(true)
	e.log.Info("streaming started")
}

// HandleDeviceTerminated implements deviceTerminated(service): clears
// hardwarePresent/driverReady, aborts the three pipes, and returns to
// Idle (spec.md §4.3, §7 DeviceDetached).
func (e *Engine) HandleDeviceTerminated() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != StateStreaming && e.State() != StateConfigured {
		return nil
	}
	e.log.Warn("device terminated")
	e.teardownLocked()
	return ErrDeviceDetached
}

// Shutdown stops the engine permanently: sets shutdownInProgress,
// tears down the streaming pipes, and unlinks the shared region
// (spec.md §4.3 "Shutdown").
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	e.shutdown.Store(true)
	e.teardownLocked()
	e.mu.Unlock()

	if e.region != nil {
		return e.region.Close()
	}
	return nil
}

// teardownLocked performs the common abort/drain/release sequence
// shared by HandleDeviceTerminated and Shutdown. Callers must hold e.mu.
func (e *Engine) teardownLocked() {
	e.region.Audio.HardwarePresent.Store(false)
	e.region.Audio.DriverReady.Store(false)

	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	time.Sleep(shutdownDrain)

	if e.pcmIntf != nil {
		e.pcmIntf.Close()
		e.pcmIntf = nil
	}
	if e.midiIntf != nil && e.midiIntf != e.pcmIntf {
		e.midiIntf.Close()
		e.midiIntf = nil
	}
	if e.transport != nil {
		e.transport.Close()
		e.transport = nil
	}
	e.state.Store(int32(StateIdle))
}

// Watchdog implements the optional hardware watchdog (spec.md §4.3):
// if no PCM-in completion has arrived within timeout while driverReady
// is true, it tears the stream down as an engine-initiated reset (not
// a real detach) so the caller can re-enter enumeration on the next
// device match. It is meant to be polled periodically by the caller.
func (e *Engine) Watchdog(timeout time.Duration) bool {
	if !e.region.Audio.DriverReady.Load() {
		return false
	}
	last := e.lastInputCompletion.Load()
	if last == 0 {
		return false
	}
	if time.Since(time.Unix(0, last)) <= timeout {
		return false
	}
	e.log.Warn("watchdog: no PCM-in completion, resetting stream")
	e.Reset()
	return true
}

// Reset tears the current stream down without touching the shared
// region's session id, the way the original driver's mIsResetting flag
// distinguishes an engine-initiated re-enumeration from a real device
// detach (spec.md's session id "never changes during a session" holds
// here too: Reset never recreates the region, only HandleDeviceMatched
// re-runs the control handshake). HandleDeviceMatched logs "session
// restored" instead of treating the next match as a cold start while
// resetting is set.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.resetting.Store(true)
	e.teardownLocked()
	e.mu.Unlock()
}

// errIsDeviceDetached is a small helper so callers can use errors.Is
// against the sentinel after Engine wraps it.
func errIsDeviceDetached(err error) bool {
	return errors.Is(err, ErrDeviceDetached)
}
