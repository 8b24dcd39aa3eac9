package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape reqgraphctl loads its run options from — a
// small YAML file, the same way kai-cli's module matcher and kailab's
// config package load their own settings, since the tracker core itself
// takes a plain Go struct (tracker.Options) rather than parsing files.
type Config struct {
	ProjectRoot   string   `yaml:"projectRoot"`
	CacheDir      string   `yaml:"cacheDir"`
	ParcelVersion string   `yaml:"parcelVersion"`
	Entries       []string `yaml:"entries"`
	Workers       int      `yaml:"workers"`
}

func defaultConfig() Config {
	return Config{
		ProjectRoot:   ".",
		CacheDir:      ".reqgraphctl-cache",
		ParcelVersion: "dev",
		Entries:       []string{"."},
		Workers:       4,
	}
}

// LoadConfig reads path if it exists, overlaying it onto defaultConfig; a
// missing file is not an error, matching LoadRulesOrEmpty's
// tolerant-of-absence behavior in kai-core/modulematch.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
