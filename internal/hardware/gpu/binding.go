package gpu

import (
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// active is the process-wide active device. Every Binding reads and writes
// it, so all Bindings in a process agree on the active device.
var active = struct {
	mu    sync.Mutex
	index int
	bound bool
}{index: -1}

// Binding routes the process-wide active device to a backend.
//
// CUDA binds the current device per host OS thread, so Set locks the calling
// goroutine to its OS thread until Release. Every GPU-bound call made by that
// goroutine afterwards routes to the index most recently passed to Set.
// A Binding must be driven from a single goroutine; the active index itself
// is shared by all Bindings.
type Binding struct {
	backend Backend
	log     *zap.Logger

	// mu protects locked
	mu     sync.Mutex
	locked bool
}

// NewBinding creates a Binding over backend.
func NewBinding(b Backend, log *zap.Logger) *Binding {
	if log == nil {
		log = zap.NewNop()
	}
	return &Binding{backend: b, log: log}
}

// Set resets any prior device context of the calling thread and binds it
// to index.
func (b *Binding) Set(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.locked {
		runtime.LockOSThread()
		b.locked = true
	}

	b.log.Info("Setting CUDA device", zap.Int("device", index))

	active.mu.Lock()
	defer active.mu.Unlock()

	if err := b.backend.SetDevice(index); err != nil {
		return fmt.Errorf("failed to set device %d: %w", index, err)
	}

	active.index = index
	active.bound = true
	return nil
}

// Active returns the process-wide active index and whether any Set succeeded.
func (b *Binding) Active() (int, bool) {
	return ActiveDevice()
}

// ActiveDevice returns the process-wide active index and whether any
// Binding has set one.
func ActiveDevice() (int, bool) {
	active.mu.Lock()
	defer active.mu.Unlock()
	return active.index, active.bound
}

// Release unlocks the goroutine from its OS thread. The device context of
// that thread and the active index are left as is.
func (b *Binding) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.locked {
		runtime.UnlockOSThread()
		b.locked = false
	}
}
