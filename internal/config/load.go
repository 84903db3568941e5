package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apex/log"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable consulted when no config path
// is passed explicitly.
const EnvConfigPath = "STEPCACHE_CONFIG"

// Load builds the global config from defaults, an optional YAML file and
// STEPCACHE_* environment variables, in that order.
func Load(path string) (Global, error) {
	g := Defaults()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		var err error
		g, err = LoadFile(g, path)
		if err != nil {
			return Global{}, err
		}
	}

	g, err := FromEnv(g, os.LookupEnv)
	if err != nil {
		return Global{}, err
	}
	if err := g.Validate(); err != nil {
		return Global{}, err
	}
	return g, nil
}

// LoadFile decodes a YAML file on top of base. Keys absent from the file keep
// their base value; unknown keys are an error.
func LoadFile(base Global, path string) (Global, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Global{}, fmt.Errorf("read config %s: %w", path, err)
	}

	g := base
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil && !errors.Is(err, io.EOF) {
		return Global{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	log.Debugf("using config file: %s", path)
	return g, nil
}

// FromEnv overlays STEPCACHE_* variables found through lookup onto g.
func FromEnv(g Global, lookup func(string) (string, bool)) (Global, error) {
	patch := map[string]any{}
	for _, k := range GlobalKeys {
		if k == "global_debug" {
			continue
		}
		if v, ok := lookup("STEPCACHE_" + strings.ToUpper(k)); ok && v != "" {
			patch[k] = v
		}
	}
	if len(patch) == 0 {
		return g, nil
	}
	return g.Apply(patch)
}
