package config

import (
	"fmt"
	"slices"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/spf13/viper"

	"github.com/buildsandbox/sandbox-agent/pkg/exporters"
	"github.com/buildsandbox/sandbox-agent/pkg/namespace"
	"github.com/buildsandbox/sandbox-agent/pkg/reportchannel"
)

const HostNameEnvVar = "HOST_NAME"

type Config struct {
	Exporters exporters.ExportersConfig `mapstructure:"exporters"`

	ChannelCapacity    int           `mapstructure:"channelCapacity"`
	ChannelShards      int           `mapstructure:"channelShards"`
	OverloadPolicy     string        `mapstructure:"overloadPolicy"`
	SymlinkHopLimit    int           `mapstructure:"symlinkHopLimit"`
	NamespaceThreshold int           `mapstructure:"namespaceThreshold"`
	MaxBatchSize       int           `mapstructure:"maxBatchSize"`
	BatchTimeout       time.Duration `mapstructure:"batchTimeout"`
	ProcfsScanInterval time.Duration `mapstructure:"procfsScanInterval"`

	// EventSocketPath is the unix socket the interception layer writes raw
	// events to.
	EventSocketPath string `mapstructure:"eventSocketPath"`

	EnablePrometheusExporter bool   `mapstructure:"prometheusExporterEnabled"`
	PrometheusListenAddr     string `mapstructure:"prometheusListenAddr"`
	EnableProfiling          bool   `mapstructure:"profilingEnabled"`
	PyroscopeServerAddr      string `mapstructure:"pyroscopeServerAddr"`

	// MonitoredRoots limits observation to paths under these directories.
	// Empty means observe everything.
	MonitoredRoots []string `mapstructure:"monitoredRoots"`
	// IgnoredOperations lists operation kinds to drop before attribution,
	// e.g. "probe".
	IgnoredOperations []string `mapstructure:"ignoredOperations"`

	// DedupWindow suppresses identical (pid, operation, path) reports seen
	// within the window. Zero disables de-duplication.
	DedupWindow time.Duration `mapstructure:"dedupWindow"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("channelCapacity", reportchannel.DefaultCapacity)
	viper.SetDefault("channelShards", 1)
	viper.SetDefault("overloadPolicy", "drop")
	viper.SetDefault("symlinkHopLimit", 40)
	viper.SetDefault("namespaceThreshold", namespace.DefaultThreshold)
	viper.SetDefault("maxBatchSize", 256)
	viper.SetDefault("batchTimeout", 500*time.Millisecond)
	viper.SetDefault("procfsScanInterval", 30*time.Second)
	viper.SetDefault("prometheusListenAddr", ":8080")
	viper.SetDefault("eventSocketPath", "/run/sandbox-agent/events.sock")

	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		return Config{}, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return Config{}, err
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks option ranges and canonicalizes the monitored roots, so a
// root given through a symlink matches the canonical paths produced by the
// resolver.
func (c *Config) Validate() error {
	if c.ChannelCapacity != 0 && (c.ChannelCapacity < 2 || c.ChannelCapacity&(c.ChannelCapacity-1) != 0) {
		return fmt.Errorf("channelCapacity must be a power of two, got %d", c.ChannelCapacity)
	}
	if c.ChannelShards < 1 {
		return fmt.Errorf("channelShards must be at least 1, got %d", c.ChannelShards)
	}
	if _, err := reportchannel.ParseOverloadPolicy(c.OverloadPolicy); err != nil {
		return err
	}
	if c.SymlinkHopLimit < 1 {
		return fmt.Errorf("symlinkHopLimit must be positive, got %d", c.SymlinkHopLimit)
	}
	if c.NamespaceThreshold < 1 {
		return fmt.Errorf("namespaceThreshold must be positive, got %d", c.NamespaceThreshold)
	}

	roots := make([]string, 0, len(c.MonitoredRoots))
	for _, root := range c.MonitoredRoots {
		canonical, err := securejoin.SecureJoin("/", root)
		if err != nil {
			return fmt.Errorf("monitored root %q: %w", root, err)
		}
		if !slices.Contains(roots, canonical) {
			roots = append(roots, canonical)
		}
	}
	c.MonitoredRoots = roots
	return nil
}
