package gpu

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BackendAuto selects the first backend in autoOrder that initializes.
const BackendAuto = "auto"

// Options configures backend construction.
type Options struct {
	// DevMode lets auto selection fall back to the mock GPU
	DevMode bool

	// SMIPath is the nvidia-smi executable used by the smi backend
	SMIPath string

	// SMITimeout bounds each nvidia-smi invocation
	SMITimeout time.Duration

	Log *zap.Logger
}

// Factory creates a backend. It must not initialize the platform.
type Factory func(opts Options) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}

	// autoOrder lists backends from most to least complete.
	autoOrder = []string{"cuda", "nvml", "smi"}
)

func init() {
	Register("fake", func(Options) (Backend, error) {
		return NewFakeBackend(), nil
	})
}

// Register makes a backend available by name.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Names returns the registered backend names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates the named backend, or selects one when name is BackendAuto.
func Open(name string, opts Options) (Backend, error) {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if name == BackendAuto {
		return openAuto(autoOrder, opts)
	}

	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return f(opts)
}

func openAuto(order []string, opts Options) (Backend, error) {
	var reasons []string

	for _, name := range order {
		registryMu.RLock()
		f, ok := registry[name]
		registryMu.RUnlock()
		if !ok {
			continue
		}

		b, err := f(opts)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if err := b.Init(); err != nil {
			opts.Log.Debug("Backend unavailable",
				zap.String("backend", name),
				zap.Error(err),
			)
			reasons = append(reasons, fmt.Sprintf("%s: %v", name, err))
			_ = b.Close()
			continue
		}

		opts.Log.Debug("Backend selected", zap.String("backend", name))
		return b, nil
	}

	if opts.DevMode {
		opts.Log.Warn("No GPU backend available, using mock GPU",
			zap.Strings("reasons", reasons),
		)
		return NewFakeBackend(), nil
	}

	return nil, newQueryError("platform init", -1, CodeNotInitialized,
		"no GPU backend available: "+strings.Join(reasons, "; "))
}
