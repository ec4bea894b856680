package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"brainctl/internal/common/fsutil"
)

// Load reads a descriptor store based on its extension, applies defaults,
// expands home-relative host paths and validates the result. A store that
// fails validation never reaches the container runtime.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, ErrConfiguration("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil { return cfg, err }
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil { return cfg, err }
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil { return cfg, err }
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	cfg.ApplyDefaults()
	if err := cfg.expandPaths(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) expandPaths() error {
	for i := range c.Nodes {
		for j := range c.Nodes[i].Volumes {
			p, err := fsutil.ExpandHome(c.Nodes[i].Volumes[j].Host)
			if err != nil {
				return ErrConfiguration("node %s: %v", c.Nodes[i].ID, err)
			}
			c.Nodes[i].Volumes[j].Host = p
		}
	}
	for i := range c.VolumePairs {
		src, err := fsutil.ExpandHome(c.VolumePairs[i].Source)
		if err != nil {
			return ErrConfiguration("volume_pairs[%d]: %v", i, err)
		}
		dst, err := fsutil.ExpandHome(c.VolumePairs[i].Dest)
		if err != nil {
			return ErrConfiguration("volume_pairs[%d]: %v", i, err)
		}
		c.VolumePairs[i].Source, c.VolumePairs[i].Dest = src, dst
	}
	return nil
}
