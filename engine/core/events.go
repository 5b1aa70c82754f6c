package core

import "sync"

// System internal event codes. Application should use codes beyond 255.
type EventCode uint16

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT EventCode = 0x01

	// Keyboard key pressed. Data is a *KeyEvent.
	EVENT_CODE_KEY_PRESSED EventCode = 0x02

	// Keyboard key released. Data is a *KeyEvent.
	EVENT_CODE_KEY_RELEASED EventCode = 0x03

	// Mouse button pressed. Data is a *MouseEvent.
	EVENT_CODE_BUTTON_PRESSED EventCode = 0x04

	// Mouse button released. Data is a *MouseEvent.
	EVENT_CODE_BUTTON_RELEASED EventCode = 0x05

	// Mouse moved. Data is a *MouseEvent with PosX/PosY set.
	EVENT_CODE_MOUSE_MOVED EventCode = 0x06

	// Mouse wheel. Data is a *MouseEvent with Scroll set.
	EVENT_CODE_MOUSE_WHEEL EventCode = 0x07

	// Resized/resolution changed from the OS. Data is a *ResizeEvent.
	EVENT_CODE_RESIZED EventCode = 0x08

	// Cycles the renderer debug view. No data.
	EVENT_CODE_DEBUG_VIEW_CYCLE EventCode = 0x09

	MAX_EVENT_CODE EventCode = 0xFF
)

type KeyEvent struct {
	KeyCode KeyCode
}

type MouseEvent struct {
	Button Button
	PosX   uint16
	PosY   uint16
	Scroll int8
}

type ResizeEvent struct {
	Width  uint32
	Height uint32
}

type EventContext struct {
	Type EventCode
	Data interface{}
}

// Should return true if handled.
type FnOnEvent func(listener interface{}, context EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventBus dispatches events to registered listeners. It is safe to fire
// from goroutines other than the main loop; callbacks run on the firing
// goroutine.
type EventBus struct {
	mu         sync.RWMutex
	registered map[EventCode][]registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		registered: make(map[EventCode][]registeredEvent),
	}
}

/**
 * Register to listen for when events are sent with the provided code. Events with duplicate
 * listeners will not be registered again and will cause this to return false.
 */
func (eb *EventBus) Register(code EventCode, listener interface{}, onEvent FnOnEvent) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, e := range eb.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	eb.registered[code] = append(eb.registered[code], registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

/**
 * Unregister from listening for when events are sent with the provided code. If no matching
 * registration is found, this function returns false.
 */
func (eb *EventBus) Unregister(code EventCode, listener interface{}) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	events := eb.registered[code]
	for i, e := range events {
		if e.listener == listener {
			eb.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

/**
 * Fires an event to listeners of the given code. If an event handler returns
 * true, the event is considered handled and is not passed on to any more listeners.
 */
func (eb *EventBus) Fire(context EventContext) bool {
	eb.mu.RLock()
	events := make([]registeredEvent, len(eb.registered[context.Type]))
	copy(events, eb.registered[context.Type])
	eb.mu.RUnlock()

	for _, e := range events {
		if e.callback(e.listener, context) {
			// Message has been handled, do not send to other listeners.
			return true
		}
	}
	return false
}

func (eb *EventBus) Shutdown() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.registered = make(map[EventCode][]registeredEvent)
}
