package usbengine

// State is the hotplug-driven lifecycle state (spec.md §4.3: "Idle →
// DeviceOpened → Configured → Streaming → (Streaming | Stopping) →
// Idle").
type State int

const (
	StateIdle State = iota
	StateDeviceOpened
	StateConfigured
	StateStreaming
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDeviceOpened:
		return "device-opened"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// DeviceEvent is one of the two events the engine consumes from the
// platform USB layer (spec.md §4.3).
type DeviceEvent int

const (
	// EventDeviceMatched corresponds to deviceMatched(service).
	EventDeviceMatched DeviceEvent = iota
	// EventDeviceTerminated corresponds to deviceTerminated(service).
	EventDeviceTerminated
)

// matchesProfile reports whether vid/pid is a supported family member
// (spec.md §4.3: "VID/PID is in the supported set").
func matchesProfile(vid, pid uint16) bool {
	return vid == VendorID && SupportedProducts[pid]
}
