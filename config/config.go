// Package config holds the tunables of the hash execution engine and loads them through viper, so that the same
// settings can come from defaults, a YAML/TOML file, HASHEXEC_* environment variables or command-line flags.
package config

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"mit.edu/dsg/hashexec/common"
)

const (
	KeyTempDir             = "temp_dir"
	KeyCachePages          = "cache_pages"
	KeyQuantumRows         = "quantum_rows"
	KeyEnableJoinFilter    = "enable_join_filter"
	KeyEnableSubPartStat   = "enable_sub_part_stat"
	KeyForcePartitionLevel = "force_partition_level"
	KeyMaxPartitionLevel   = "max_partition_level"
	KeyLogLevel            = "log_level"

	envPrefix = "HASHEXEC"
)

// Config is the engine configuration. CachePages is the page budget handed to SetResourceAllocation; zero means
// "use the optimal request".
type Config struct {
	TempDir             string `mapstructure:"temp_dir"`
	CachePages          int    `mapstructure:"cache_pages"`
	QuantumRows         int    `mapstructure:"quantum_rows"`
	EnableJoinFilter    bool   `mapstructure:"enable_join_filter"`
	EnableSubPartStat   bool   `mapstructure:"enable_sub_part_stat"`
	ForcePartitionLevel int    `mapstructure:"force_partition_level"`
	// MaxPartitionLevel caps the recursion depth. Zero disables the cap.
	MaxPartitionLevel int    `mapstructure:"max_partition_level"`
	LogLevel          string `mapstructure:"log_level"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		TempDir:             os.TempDir(),
		CachePages:          0,
		QuantumRows:         1024,
		EnableJoinFilter:    true,
		EnableSubPartStat:   true,
		ForcePartitionLevel: 0,
		MaxPartitionLevel:   32,
		LogLevel:            "info",
	}
}

// SetDefaults registers the defaults of every key on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyTempDir, d.TempDir)
	v.SetDefault(KeyCachePages, d.CachePages)
	v.SetDefault(KeyQuantumRows, d.QuantumRows)
	v.SetDefault(KeyEnableJoinFilter, d.EnableJoinFilter)
	v.SetDefault(KeyEnableSubPartStat, d.EnableSubPartStat)
	v.SetDefault(KeyForcePartitionLevel, d.ForcePartitionLevel)
	v.SetDefault(KeyMaxPartitionLevel, d.MaxPartitionLevel)
	v.SetDefault(KeyLogLevel, d.LogLevel)
}

// NewViper returns a viper instance with defaults registered and HASHEXEC_* environment binding enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// RegisterFlags defines a flag for every key on fs, named like the key with dashes, and binds each to v so that
// a flag given on the command line overrides the file and the environment.
func RegisterFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	d := Default()
	fs.String(flagName(KeyTempDir), d.TempDir, "directory for spill files")
	fs.Int(flagName(KeyCachePages), d.CachePages, "page budget of each operator (0: sized from estimates)")
	fs.Int(flagName(KeyQuantumRows), d.QuantumRows, "rows produced per scheduling quantum")
	fs.Bool(flagName(KeyEnableJoinFilter), d.EnableJoinFilter, "drop rows that cannot match before spilling them")
	fs.Bool(flagName(KeyEnableSubPartStat), d.EnableSubPartStat, "collect sub-partition statistics while spilling")
	fs.Int(flagName(KeyForcePartitionLevel), d.ForcePartitionLevel, "partition every level below this one")
	fs.Int(flagName(KeyMaxPartitionLevel), d.MaxPartitionLevel, "deepest partitioning level (0: unlimited)")
	fs.String(flagName(KeyLogLevel), d.LogLevel, "log level (debug, info, warn, error)")
	for _, key := range []string{KeyTempDir, KeyCachePages, KeyQuantumRows, KeyEnableJoinFilter,
		KeyEnableSubPartStat, KeyForcePartitionLevel, KeyMaxPartitionLevel, KeyLogLevel} {
		if err := v.BindPFlag(key, fs.Lookup(flagName(key))); err != nil {
			return err
		}
	}
	return nil
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// Load reads the optional config file at path (any format viper understands, chosen by extension) into v and
// decodes the result.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, common.NewExecError(common.InvalidConfigError, "reading config %s: %v", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, common.NewExecError(common.InvalidConfigError, "decoding config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch {
	case c.CachePages < 0:
		return common.NewExecError(common.InvalidConfigError, "cache_pages must be >= 0, got %d", c.CachePages)
	case c.QuantumRows <= 0:
		return common.NewExecError(common.InvalidConfigError, "quantum_rows must be > 0, got %d", c.QuantumRows)
	case c.ForcePartitionLevel < 0:
		return common.NewExecError(common.InvalidConfigError, "force_partition_level must be >= 0, got %d", c.ForcePartitionLevel)
	case c.MaxPartitionLevel < 0:
		return common.NewExecError(common.InvalidConfigError, "max_partition_level must be >= 0, got %d", c.MaxPartitionLevel)
	case c.MaxPartitionLevel > 0 && c.ForcePartitionLevel >= c.MaxPartitionLevel:
		return common.NewExecError(common.InvalidConfigError,
			"force_partition_level (%d) must be below max_partition_level (%d)", c.ForcePartitionLevel, c.MaxPartitionLevel)
	case c.TempDir == "":
		return common.NewExecError(common.InvalidConfigError, "temp_dir must be set")
	}
	return nil
}
