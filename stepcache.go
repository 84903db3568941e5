// Package stepcache speeds up iterative inference loops by reusing a model's
// previous output, with a little noise, on selected steps instead of
// recomputing it.
//
// A model opts in by exposing a Hook around its per-step computation and
// calling the hook on every step. EnableCache then routes those calls
// through a per-model decision engine:
//
//	type UNet struct{ hook *stepcache.Hook }
//
//	func (u *UNet) Name() string                 { return "unet" }
//	func (u *UNet) ComputeHook() *stepcache.Hook { return u.hook }
//
//	err := stepcache.EnableCache(unet, stepcache.WithSkipInterval(3))
//
// The package-level functions operate on a process-wide registry of
// []float32 models. Use NewRegistry for an isolated one.
package stepcache

import (
	"sync"

	"github.com/apex/log"

	"github.com/mcules/stepcache/internal/config"
	"github.com/mcules/stepcache/internal/engine"
	"github.com/mcules/stepcache/internal/noise"
	"github.com/mcules/stepcache/internal/registry"
	"github.com/mcules/stepcache/internal/stats"
)

type (
	Registry        = registry.Registry[[]float32]
	RegistryOptions = registry.Options
	Model           = registry.Model[[]float32]
	Hook            = registry.Hook[[]float32]
	Input           = registry.Input[[]float32]
	Forward         = registry.Forward[[]float32]
	Option          = config.Option
	Strategy        = config.Strategy
	GlobalConfig    = config.Global
	GlobalStats     = stats.Global
	ModelStats      = stats.ModelDetail
)

const (
	Fixed    = config.Fixed
	Dynamic  = config.Dynamic
	Adaptive = config.Adaptive
)

var (
	ErrInvalidConfig    = config.ErrInvalidConfig
	ErrDuplicateCache   = registry.ErrDuplicateCache
	ErrUnsupportedModel = registry.ErrUnsupportedModel
	ErrInvalidState     = engine.ErrInvalidState
)

var (
	WithStrategy     = config.WithStrategy
	WithSkipInterval = config.WithSkipInterval
	WithWarmupSteps  = config.WithWarmupSteps
	WithNoiseScale   = config.WithNoiseScale
	WithEnableStats  = config.WithEnableStats
	WithDebug        = config.WithDebug
)

func NewHook(forward Forward) *Hook { return registry.NewHook(forward) }

// NewRegistry creates a registry independent of the process-wide one.
func NewRegistry(opts RegistryOptions) *Registry {
	return registry.New[[]float32](noise.NewFloat32(), opts)
}

var (
	defaultMu  sync.Mutex
	defaultReg *Registry
)

// Default returns the process-wide registry, creating it on first use with
// the global config from STEPCACHE_CONFIG and STEPCACHE_* variables.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultReg == nil {
		g, err := config.Load("")
		if err != nil {
			log.WithError(err).Warn("stepcache: ignoring invalid environment config")
			g = config.Defaults()
		}
		defaultReg = NewRegistry(RegistryOptions{Global: g})
	}
	return defaultReg
}

// InitDefault installs r as the process-wide registry. It reports false,
// leaving the current one in place, if a registry already exists.
func InitDefault(r *Registry) bool {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultReg != nil {
		return false
	}
	defaultReg = r
	return true
}

// Teardown restores every intercepted model and discards the process-wide
// registry. The next call creates a fresh one.
func Teardown() {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultReg != nil {
		defaultReg.Close()
		defaultReg = nil
	}
}

func EnableCache(m Model, opts ...Option) error { return Default().EnableCache(m, opts...) }

// EnableCacheMap is EnableCache with loosely typed options, as decoded from
// JSON or a config file. Unknown keys are rejected.
func EnableCacheMap(m Model, opts map[string]any) error {
	o, err := config.ParseOptions(opts)
	if err != nil {
		return err
	}
	return Default().EnableCache(m, config.WithOptions(o))
}

func DisableCache(m Model) { Default().DisableCache(m) }

func Summary(m Model) string { return Default().Summary(m) }

func SetGlobalConfig(patch map[string]any) error { return Default().SetGlobalConfig(patch) }

func GetGlobalStats() GlobalStats { return Default().GetGlobalStats() }

func ResetCacheStats() { Default().ResetCacheStats() }

func DetailedSummary() string { return Default().DetailedSummary() }

// Enable is EnableCache.
func Enable(m Model, opts ...Option) error { return EnableCache(m, opts...) }

// Disable is DisableCache.
func Disable(m Model) { DisableCache(m) }

// Stats is Summary.
func Stats(m Model) string { return Summary(m) }
