package config

import (
	"errors"
	"math"
	"sort"
	"strings"
)

const (
	DefaultSkipInterval = 2
	DefaultWarmupSteps  = 3
	DefaultNoiseScale   = 0.001

	// DefaultMaxSkipRun bounds consecutive reuses for Dynamic and Adaptive.
	DefaultMaxSkipRun = 3
	// DefaultDecayWindow is the number of active steps after which Dynamic
	// shrinks its interval by one.
	DefaultDecayWindow = 10
)

// Global holds the process-wide defaults applied when a per-model option is
// absent.
type Global struct {
	DefaultStrategy     Strategy `yaml:"default_strategy" json:"default_strategy"`
	DefaultSkipInterval int      `yaml:"default_skip_interval" json:"default_skip_interval"`
	DefaultWarmupSteps  int      `yaml:"default_warmup_steps" json:"default_warmup_steps"`
	DefaultNoiseScale   float64  `yaml:"default_noise_scale" json:"default_noise_scale"`
	DefaultEnableStats  bool     `yaml:"default_enable_stats" json:"default_enable_stats"`
	Debug               bool     `yaml:"debug" json:"debug"`
	MaxSkipRun          int      `yaml:"max_skip_run" json:"max_skip_run"`
	DecayWindow         int      `yaml:"decay_window" json:"decay_window"`
}

// Settings is the effective, validated configuration of one cached model.
type Settings struct {
	Strategy     Strategy
	SkipInterval int
	WarmupSteps  int
	NoiseScale   float64
	EnableStats  bool
	Debug        bool
	MaxSkipRun   int
	DecayWindow  int
}

func Defaults() Global {
	return Global{
		DefaultStrategy:     Fixed,
		DefaultSkipInterval: DefaultSkipInterval,
		DefaultWarmupSteps:  DefaultWarmupSteps,
		DefaultNoiseScale:   DefaultNoiseScale,
		DefaultEnableStats:  true,
		MaxSkipRun:          DefaultMaxSkipRun,
		DecayWindow:         DefaultDecayWindow,
	}
}

func (g Global) Validate() error {
	err := g.settings().Validate()
	var ve *ValidationError
	if errors.As(err, &ve) {
		switch ve.Field {
		case "strategy", "skip_interval", "warmup_steps", "noise_scale":
			ve.Field = "default_" + ve.Field
		}
	}
	return err
}

func (g Global) settings() Settings {
	return Settings{
		Strategy:     g.DefaultStrategy,
		SkipInterval: g.DefaultSkipInterval,
		WarmupSteps:  g.DefaultWarmupSteps,
		NoiseScale:   g.DefaultNoiseScale,
		EnableStats:  g.DefaultEnableStats,
		Debug:        g.Debug,
		MaxSkipRun:   g.MaxSkipRun,
		DecayWindow:  g.DecayWindow,
	}
}

// Resolve overlays each Options in order onto the global defaults and
// validates the result.
func (g Global) Resolve(layers ...Options) (Settings, error) {
	s := g.settings()
	for _, o := range layers {
		if o.Strategy != nil {
			s.Strategy = *o.Strategy
		}
		if o.SkipInterval != nil {
			s.SkipInterval = *o.SkipInterval
		}
		if o.WarmupSteps != nil {
			s.WarmupSteps = *o.WarmupSteps
		}
		if o.NoiseScale != nil {
			s.NoiseScale = *o.NoiseScale
		}
		if o.EnableStats != nil {
			s.EnableStats = *o.EnableStats
		}
		if o.Debug != nil {
			// Global debug cannot be switched off per model.
			s.Debug = g.Debug || *o.Debug
		}
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if !s.Strategy.Valid() {
		return &ValidationError{Field: "strategy", Value: int(s.Strategy), Reason: "must be one of fixed, dynamic, adaptive"}
	}
	if s.SkipInterval < 1 {
		return &ValidationError{Field: "skip_interval", Value: s.SkipInterval, Reason: "must be >= 1"}
	}
	if s.WarmupSteps < 0 {
		return &ValidationError{Field: "warmup_steps", Value: s.WarmupSteps, Reason: "must be >= 0"}
	}
	if s.NoiseScale < 0 || math.IsNaN(s.NoiseScale) || math.IsInf(s.NoiseScale, 0) {
		return &ValidationError{Field: "noise_scale", Value: s.NoiseScale, Reason: "must be a finite value >= 0"}
	}
	if s.MaxSkipRun < 1 {
		return &ValidationError{Field: "max_skip_run", Value: s.MaxSkipRun, Reason: "must be >= 1"}
	}
	if s.DecayWindow < 1 {
		return &ValidationError{Field: "decay_window", Value: s.DecayWindow, Reason: "must be >= 1"}
	}
	return nil
}

// GlobalKeys are the keys accepted by Apply.
var GlobalKeys = []string{
	"debug",
	"decay_window",
	"default_enable_stats",
	"default_noise_scale",
	"default_skip_interval",
	"default_strategy",
	"default_warmup_steps",
	"global_debug",
	"max_skip_run",
}

// Apply merges patch into a copy of g. Unknown keys and out-of-range values
// are rejected; on error g is returned unchanged alongside it.
func (g Global) Apply(patch map[string]any) (Global, error) {
	next := g

	// Deterministic order so the first reported error is stable.
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := patch[k]
		var err error
		switch strings.ToLower(k) {
		case "default_strategy":
			next.DefaultStrategy, err = asStrategy(k, v)
		case "default_skip_interval":
			next.DefaultSkipInterval, err = asInt(k, v)
		case "default_warmup_steps":
			next.DefaultWarmupSteps, err = asInt(k, v)
		case "default_noise_scale":
			next.DefaultNoiseScale, err = asFloat(k, v)
		case "default_enable_stats":
			next.DefaultEnableStats, err = asBool(k, v)
		case "debug", "global_debug":
			next.Debug, err = asBool(k, v)
		case "max_skip_run":
			next.MaxSkipRun, err = asInt(k, v)
		case "decay_window":
			next.DecayWindow, err = asInt(k, v)
		default:
			err = &ValidationError{Field: k, Value: v, Reason: "unknown global config key"}
		}
		if err != nil {
			return g, err
		}
	}

	if err := next.Validate(); err != nil {
		return g, err
	}
	return next, nil
}
