package remotekit

import (
	"sync"
	"sync/atomic"
)

// ChangeToken represents a change notification token. Once signalled it
// stays signalled; tokens are single-use. Consumers either poll HasChanged
// or register a callback.
type ChangeToken interface {
	// HasChanged returns true once a change has occurred.
	HasChanged() bool

	// RegisterChangeCallback registers a callback invoked when the change
	// occurs. Returns a function to unregister it.
	RegisterChangeCallback(callback func()) (unregister func())
}

// CallbackChangeToken is a ChangeToken driven by native filesystem events.
// The local driver signals it from its fsnotify watcher.
type CallbackChangeToken struct {
	mu        sync.Mutex
	changed   atomic.Bool
	callbacks []func()
}

// NewCallbackChangeToken creates an unsignalled token.
func NewCallbackChangeToken() *CallbackChangeToken {
	return &CallbackChangeToken{}
}

func (t *CallbackChangeToken) HasChanged() bool {
	return t.changed.Load()
}

func (t *CallbackChangeToken) RegisterChangeCallback(callback func()) (unregister func()) {
	t.mu.Lock()
	t.callbacks = append(t.callbacks, callback)
	index := len(t.callbacks) - 1
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if index < len(t.callbacks) {
			// nil instead of removal, so registered indexes stay stable
			t.callbacks[index] = nil
		}
	}
}

// SignalChange marks the token changed and invokes all callbacks. Called
// by the driver when a matching event arrives; only the first signal runs
// the callbacks.
func (t *CallbackChangeToken) SignalChange() {
	if t.changed.Swap(true) {
		return
	}

	t.mu.Lock()
	callbacks := make([]func(), len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.Unlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb()
		}
	}
}

var _ ChangeToken = (*CallbackChangeToken)(nil)
