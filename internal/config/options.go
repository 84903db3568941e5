package config

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Options is a partial per-model override. Nil fields fall through to the
// next layer, ultimately to Global.
type Options struct {
	Strategy     *Strategy `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	SkipInterval *int      `yaml:"skip_interval,omitempty" json:"skip_interval,omitempty"`
	WarmupSteps  *int      `yaml:"warmup_steps,omitempty" json:"warmup_steps,omitempty"`
	NoiseScale   *float64  `yaml:"noise_scale,omitempty" json:"noise_scale,omitempty"`
	EnableStats  *bool     `yaml:"enable_stats,omitempty" json:"enable_stats,omitempty"`
	Debug        *bool     `yaml:"debug,omitempty" json:"debug,omitempty"`
}

type Option func(*Options)

func WithStrategy(s Strategy) Option  { return func(o *Options) { o.Strategy = &s } }
func WithSkipInterval(n int) Option   { return func(o *Options) { o.SkipInterval = &n } }
func WithWarmupSteps(n int) Option    { return func(o *Options) { o.WarmupSteps = &n } }
func WithNoiseScale(f float64) Option { return func(o *Options) { o.NoiseScale = &f } }
func WithEnableStats(b bool) Option   { return func(o *Options) { o.EnableStats = &b } }
func WithDebug(b bool) Option         { return func(o *Options) { o.Debug = &b } }
func WithOptions(src Options) Option  { return func(o *Options) { *o = o.Merge(src) } }

func NewOptions(opts ...Option) Options {
	var o Options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Merge returns o with every field set in over replacing its counterpart.
func (o Options) Merge(over Options) Options {
	if over.Strategy != nil {
		o.Strategy = over.Strategy
	}
	if over.SkipInterval != nil {
		o.SkipInterval = over.SkipInterval
	}
	if over.WarmupSteps != nil {
		o.WarmupSteps = over.WarmupSteps
	}
	if over.NoiseScale != nil {
		o.NoiseScale = over.NoiseScale
	}
	if over.EnableStats != nil {
		o.EnableStats = over.EnableStats
	}
	if over.Debug != nil {
		o.Debug = over.Debug
	}
	return o
}

// OptionKeys are the keys accepted by ParseOptions.
var OptionKeys = []string{"debug", "enable_stats", "noise_scale", "skip_interval", "strategy", "warmup_steps"}

// ParseOptions converts a loosely typed option map (decoded JSON, protobuf
// Struct, CLI input) into Options. Unknown keys are rejected.
func ParseOptions(m map[string]any) (Options, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var o Options
	for _, k := range keys {
		v := m[k]
		switch strings.ToLower(k) {
		case "strategy":
			s, err := asStrategy(k, v)
			if err != nil {
				return Options{}, err
			}
			o.Strategy = &s
		case "skip_interval":
			n, err := asInt(k, v)
			if err != nil {
				return Options{}, err
			}
			o.SkipInterval = &n
		case "warmup_steps":
			n, err := asInt(k, v)
			if err != nil {
				return Options{}, err
			}
			o.WarmupSteps = &n
		case "noise_scale":
			f, err := asFloat(k, v)
			if err != nil {
				return Options{}, err
			}
			o.NoiseScale = &f
		case "enable_stats":
			b, err := asBool(k, v)
			if err != nil {
				return Options{}, err
			}
			o.EnableStats = &b
		case "debug":
			b, err := asBool(k, v)
			if err != nil {
				return Options{}, err
			}
			o.Debug = &b
		default:
			return Options{}, &ValidationError{Field: k, Value: v, Reason: "unknown option"}
		}
	}
	return o, nil
}

func asStrategy(field string, v any) (Strategy, error) {
	switch t := v.(type) {
	case Strategy:
		if !t.Valid() {
			return 0, &ValidationError{Field: field, Value: v, Reason: "unknown strategy"}
		}
		return t, nil
	case string:
		s, err := ParseStrategy(t)
		if err != nil {
			return 0, &ValidationError{Field: field, Value: v, Reason: "must be one of fixed, dynamic, adaptive"}
		}
		return s, nil
	}
	return 0, &ValidationError{Field: field, Value: v, Reason: "must be a strategy name"}
}

func asInt(field string, v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case uint32:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, &ValidationError{Field: field, Value: v, Reason: "must be an integer"}
		}
		return int(t), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, &ValidationError{Field: field, Value: v, Reason: "must be an integer"}
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, &ValidationError{Field: field, Value: v, Reason: "must be an integer"}
		}
		return n, nil
	}
	return 0, &ValidationError{Field: field, Value: v, Reason: "must be an integer"}
}

func asFloat(field string, v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, &ValidationError{Field: field, Value: v, Reason: "must be a number"}
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, &ValidationError{Field: field, Value: v, Reason: "must be a number"}
		}
		return f, nil
	}
	return 0, &ValidationError{Field: field, Value: v, Reason: "must be a number"}
}

func asBool(field string, v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, &ValidationError{Field: field, Value: v, Reason: "must be a boolean"}
		}
		return b, nil
	}
	return false, &ValidationError{Field: field, Value: v, Reason: "must be a boolean"}
}
