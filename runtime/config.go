package runtime

import (
	goruntime "runtime"

	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

// ScheduleMode selects how lanes are driven.
type ScheduleMode uint8

const (
	// ModeParallel runs lanes on a pool of worker goroutines.
	ModeParallel ScheduleMode = iota
	// ModeDeterministic runs no background workers. Lanes run on the goroutine
	// that waits (Drain, SubmitIngress, IngressCall.Wait) in ready order, so a
	// given sequence of driver operations always produces the same trace.
	ModeDeterministic
)

func (m ScheduleMode) String() string {
	if m == ModeDeterministic {
		return "deterministic"
	}
	return "parallel"
}

const (
	// DefaultHeapMaxPages caps the heap at 64 MiB.
	DefaultHeapMaxPages uint32 = 1024
	// DefaultStableMaxPages caps stable memory at 256 MiB.
	DefaultStableMaxPages uint32 = 4096
	// DefaultInitialBalance is the cycle balance of a newly added canister.
	DefaultInitialBalance uint64 = 100_000_000_000_000
	// MaxCyclesPerResponse is reserved from the caller's balance for every
	// performed call and returned only if the call is discarded.
	MaxCyclesPerResponse uint64 = 12
)

// Config holds replica configuration. Zero fields take defaults.
type Config struct {
	// Clock supplies message timestamps. Defaults to SystemClock.
	Clock Clock
	// Logger overrides the package logger for this replica.
	Logger *zap.Logger
	// Metrics receives scheduler metrics. Defaults to a private registry.
	Metrics metrics.Registry
	// InitialBalance is the cycle balance of canisters added without WithBalance.
	InitialBalance uint64
	// Workers is the size of the worker pool in ModeParallel. Defaults to GOMAXPROCS.
	Workers int
	// HeapMaxPages and StableMaxPages cap each canister's regions.
	HeapMaxPages   uint32
	StableMaxPages uint32
	Mode           ScheduleMode
	// ReserveAddressSpace backs regions with an up-front address-space
	// reservation so that growth never moves them.
	ReserveAddressSpace bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = Logger()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewRegistry()
	}
	if c.InitialBalance == 0 {
		c.InitialBalance = DefaultInitialBalance
	}
	if c.Workers <= 0 {
		c.Workers = goruntime.GOMAXPROCS(0)
	}
	if c.HeapMaxPages == 0 {
		c.HeapMaxPages = DefaultHeapMaxPages
	}
	if c.StableMaxPages == 0 {
		c.StableMaxPages = DefaultStableMaxPages
	}
	return c
}
