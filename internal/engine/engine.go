// Package engine owns the process-wide state shared by every catalog:
// configuration, logger, metrics, hashing and classification, and the
// per-root lock registry. Register is idempotent; Shutdown resets it.
package engine

import (
	"fmt"
	"sync"

	"github.com/Ning0612/ddb/internal/classify"
	"github.com/Ning0612/ddb/internal/config"
	"github.com/Ning0612/ddb/internal/core/checksum"
	"github.com/Ning0612/ddb/internal/lock"
	"github.com/Ning0612/ddb/internal/logger"
	"github.com/Ning0612/ddb/internal/metrics"
)

// version is overridden at link time with -ldflags "-X ...engine.version=..."
var version = "1.0.0"

// Version returns the engine version
func Version() string {
	return version
}

// Options configures Register. Zero fields take defaults.
type Options struct {
	Config  *config.Config
	Logger  logger.Logger
	Metrics *metrics.Metrics
	Locks   *lock.Registry
}

// Runtime is the registered process state
type Runtime struct {
	Config     *config.Config
	Log        logger.Logger
	Metrics    *metrics.Metrics
	Calculator *checksum.DefaultCalculator
	Classifier *classify.Classifier
	Locks      *lock.Registry
}

var (
	mu      sync.Mutex
	current *Runtime
)

// Register initializes the process state once. Later calls return the
// already registered runtime and ignore opts.
func Register(opts Options) (*Runtime, error) {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		return current, nil
	}

	rt, err := newRuntime(opts)
	if err != nil {
		return nil, err
	}
	current = rt
	rt.Log.Debug("engine registered", "version", version, "hash", rt.Calculator.Algorithm())
	return rt, nil
}

func newRuntime(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = logger.Get()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	locks := opts.Locks
	if locks == nil {
		locks = lock.Default()
	}

	calc := checksum.NewCalculator(cfg.ChecksumOptions())
	calc.OnBytes = m.AddBytesHashed

	return &Runtime{
		Config:     cfg,
		Log:        log,
		Metrics:    m,
		Calculator: calc,
		Classifier: classify.New(calc, log.With("component", "classify")),
		Locks:      locks,
	}, nil
}

// Current returns the registered runtime, registering defaults first
// when needed.
func Current() *Runtime {
	rt, err := Register(Options{})
	if err != nil {
		// the default config always validates
		panic(err)
	}
	return rt
}

// IsRegistered reports whether Register has run since the last Shutdown
func IsRegistered() bool {
	mu.Lock()
	defer mu.Unlock()
	return current != nil
}

// Shutdown forgets the registered runtime. Open catalogs keep the
// runtime they were opened with.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	current = nil
}
