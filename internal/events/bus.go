package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(DeviceEvent{...})
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case DeviceEvent:
		event.Publish(b.dispatcher, e)
	case ModuleEvent:
		event.Publish(b.dispatcher, e)
	case FirmwareEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler's argument type determines which events it receives.
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e DeviceEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(DeviceEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ModuleEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FirmwareEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
