// Package config loads a project's compilation configuration (entries,
// output directory, cache groups, module/chunk id policies, and watch
// options) from YAML with environment overrides, the way the teacher
// loads its own project config (cmd/config's viper + yaml.v3 pattern).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EntryConfig names one entry point: a chunk name plus the request to
// start the module graph walk from (spec §4.2 "Seeding").
type EntryConfig struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Request string `mapstructure:"request" yaml:"request"`
	// Runtime names the (possibly shared) runtime chunk this entry
	// attaches to; empty defaults to a private runtime chunk per entry.
	Runtime string `mapstructure:"runtime" yaml:"runtime"`
}

// CacheGroupConfig is the YAML-serializable form of a split-chunks rule
// (spec §4.2.4). Test is expressed declaratively here (a substring
// pattern) and compiled into a chunk.CacheGroup
// predicate by package compilation, since a predicate function cannot
// round-trip through YAML.
type CacheGroupConfig struct {
	Key                string `mapstructure:"key" yaml:"key"`
	TestPattern        string `mapstructure:"test" yaml:"test"`
	Chunks             string `mapstructure:"chunks" yaml:"chunks"` // initial | async | all
	MinChunks          int    `mapstructure:"minChunks" yaml:"minChunks"`
	MinSizeReduction   int64  `mapstructure:"minSizeReduction" yaml:"minSizeReduction"`
	Priority           int    `mapstructure:"priority" yaml:"priority"`
	ReuseExistingChunk bool   `mapstructure:"reuseExistingChunk" yaml:"reuseExistingChunk"`
	NamePattern        string `mapstructure:"name" yaml:"name"`
}

// OptimizationConfig toggles the opt-in module-graph optimisation passes
// (spec §4.1.4 steps 3-5).
type OptimizationConfig struct {
	SideEffects bool `mapstructure:"sideEffects" yaml:"sideEffects"`
	Mangle      bool `mapstructure:"mangle" yaml:"mangle"`
	InnerGraph  bool `mapstructure:"innerGraph" yaml:"innerGraph"`
}

// WatchConfig mirrors the watcher options interface spec §6 names.
type WatchConfig struct {
	PollIntervalMS    int      `mapstructure:"pollIntervalMs" yaml:"pollIntervalMs"`
	AggregateTimeoutMS int     `mapstructure:"aggregateTimeoutMs" yaml:"aggregateTimeoutMs"`
	Ignored           []string `mapstructure:"ignored" yaml:"ignored"`
	FollowSymlinks    bool     `mapstructure:"followSymlinks" yaml:"followSymlinks"`
}

// Config is the top-level project configuration a `loom.yaml` file (or
// environment overrides) populates.
type Config struct {
	ProjectDir string        `mapstructure:"projectDir" yaml:"projectDir"`
	Entries    []EntryConfig `mapstructure:"entries" yaml:"entries"`
	OutputDir  string        `mapstructure:"outputDir" yaml:"outputDir"`

	ModuleIDPolicy string `mapstructure:"moduleIdPolicy" yaml:"moduleIdPolicy"` // named | deterministic | natural
	ChunkIDPolicy  string `mapstructure:"chunkIdPolicy" yaml:"chunkIdPolicy"`

	CacheGroups  []CacheGroupConfig `mapstructure:"cacheGroups" yaml:"cacheGroups"`
	Optimization OptimizationConfig `mapstructure:"optimization" yaml:"optimization"`
	Watch        WatchConfig        `mapstructure:"watch" yaml:"watch"`

	PublicPath string `mapstructure:"publicPath" yaml:"publicPath"`
	Format     string `mapstructure:"format" yaml:"format"` // classic | esm
	Verbose    bool   `mapstructure:"verbose" yaml:"verbose"`
}

// Default returns a Config with the field defaults a bare `loom build`
// invocation should use absent any config file.
func Default() *Config {
	return &Config{
		OutputDir:      "dist",
		ModuleIDPolicy: "deterministic",
		ChunkIDPolicy:  "deterministic",
		Format:         "classic",
		Watch: WatchConfig{
			PollIntervalMS:     0,
			AggregateTimeoutMS: 200,
			Ignored:            []string{"**/node_modules/**", "**/.git/**"},
		},
	}
}

// Load reads project configuration from configPath (if non-empty) via
// viper, falling back to Default() values, matching cmd/config's load
// pattern. LOOM_-prefixed environment variables (viper.AutomaticEnv) are
// consulted only for keys the config file itself sets; with an empty
// configPath, Default() is returned unchanged.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("LOOM")
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", configPath, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("config: unmarshal %q: %w", configPath, err)
		}
	}

	return cfg, nil
}

// ParseYAML unmarshals raw YAML bytes directly into a Config seeded with
// defaults, for callers (tests, embedders) that already have the bytes in
// hand rather than a file path.
func ParseYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	return cfg, nil
}

// Clone returns a deep copy of c, following the teacher's CemConfig.Clone
// convention of explicitly deep-copying slice fields rather than relying
// on a shallow struct copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Entries = append([]EntryConfig(nil), c.Entries...)
	clone.CacheGroups = append([]CacheGroupConfig(nil), c.CacheGroups...)
	clone.Watch.Ignored = append([]string(nil), c.Watch.Ignored...)
	return &clone
}

// IsPackageSpecifier reports whether spec names an external package
// rather than a local file (teacher's config.IsPackageSpecifier,
// extended to the specifier forms spec §6's module identifier grammar
// treats as external boundary nodes).
func IsPackageSpecifier(spec string) bool {
	return strings.HasPrefix(spec, "npm:") || strings.HasPrefix(spec, "node:") ||
		strings.HasPrefix(spec, "http://") || strings.HasPrefix(spec, "https://")
}
