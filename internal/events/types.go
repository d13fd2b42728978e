package events

// Event type constants for kelindar/event.
const (
	TypeDevice uint32 = iota + 1
	TypeModule
	TypeFirmware
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// DeviceEvent is published through the node factory's property sink when
// a device node is added or removed; an add whose mknod fails publishes
// nothing.
type DeviceEvent struct {
	Action     string `json:"action" example:"add" doc:"add, remove, or change"`
	DevPath    string `json:"devpath" example:"/devices/platform/soc/usb/video4linux/video0" doc:"kernel DEVPATH"`
	Subsystem  string `json:"subsystem" example:"video4linux" doc:"kernel SUBSYSTEM"`
	NodePath   string `json:"node_path,omitempty" example:"/dev/video0" doc:"device node path, empty if none was created"`
	Major      int    `json:"major,omitempty" doc:"device major number"`
	Minor      int    `json:"minor,omitempty" doc:"device minor number"`
	Timestamp  string `json:"timestamp" example:"2026-08-01T10:30:00Z" doc:"event timestamp"`
}

// Type returns the event type identifier for DeviceEvent.
func (e DeviceEvent) Type() uint32 { return TypeDevice }

// ModuleEvent describes a module insert attempt for a modalias. The bus and
// the status schema accept it, but no component publishes it; the
// autoloader reports its attempts only through logs and metrics.
type ModuleEvent struct {
	Modalias  string `json:"modalias" example:"usb:v046DpC52Ed*" doc:"modalias string that triggered the load"`
	Module    string `json:"module" example:"btusb" doc:"resolved module name"`
	Loaded    bool   `json:"loaded" doc:"whether the load attempt succeeded"`
	Error     string `json:"error,omitempty" doc:"failure reason, if any"`
	Timestamp string `json:"timestamp" example:"2026-08-01T10:30:00Z" doc:"event timestamp"`
}

// Type returns the event type identifier for ModuleEvent.
func (e ModuleEvent) Type() uint32 { return TypeModule }

// FirmwareEvent is published when a firmware load request is serviced.
type FirmwareEvent struct {
	DevPath   string `json:"devpath" example:"/devices/pci0000:00/.../firmware" doc:"kernel DEVPATH"`
	Name      string `json:"name" example:"iwlwifi-8000C-36.ucode" doc:"requested firmware file name"`
	Loaded    bool   `json:"loaded" doc:"whether the firmware transfer succeeded"`
	Bytes     int64  `json:"bytes,omitempty" doc:"bytes transferred"`
	Error     string `json:"error,omitempty" doc:"failure reason, if any"`
	Timestamp string `json:"timestamp" example:"2026-08-01T10:30:00Z" doc:"event timestamp"`
}

// Type returns the event type identifier for FirmwareEvent.
func (e FirmwareEvent) Type() uint32 { return TypeFirmware }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2026-08-01T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"dispatcher" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
