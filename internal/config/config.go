// Package config loads a node's YAML configuration (plus environment
// overrides) into the keys enumerated in spec.md §6, mirroring the
// teacher's pkg/config.Load: viper for file+env merging, mapstructure
// tags on a typed struct, sensible defaults set before the file is read
// so a minimal or absent config file still produces a runnable node.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NetworkConfig is the top-level network label a node reports (devnet,
// testnet, mainnet).
type NetworkConfig struct {
	Name string `mapstructure:"name"`
}

// P2PConfig carries the listen and bootstrap multiaddresses the p2p
// package's Host consumes directly.
type P2PConfig struct {
	Listen    []string `mapstructure:"listen"`
	Bootstrap []string `mapstructure:"bootstrap"`
}

// SybilConfig carries the per-policy tunables spec.md §4.6's sybil
// policies need beyond the policy name itself: allowlist lets `allowlist`
// resolve eligible peer ids, powDifficulty/minStake gate `pow`/`stake`.
type SybilConfig struct {
	Allowlist     []string `mapstructure:"allowlist"`
	PowDifficulty int      `mapstructure:"powDifficulty"`
	MinStake      uint64   `mapstructure:"minStake"`
}

// FinalityConfig carries the tiered-finality tunables (spec.md §4.8).
// Tiers is expressed as the two threshold amounts DefaultTiers encodes.
// Load does not check the shape: keys under finality other than
// tier1Max, tier2Max and timeMs are ignored when unmarshalling.
type FinalityConfig struct {
	Tier1Max uint64 `mapstructure:"tier1Max"`
	Tier2Max uint64 `mapstructure:"tier2Max"`
	TimeMs   int64  `mapstructure:"timeMs"`
}

// SnapshotConfig carries the snapshot manager and chunked-transfer policy
// (spec.md §4.7, §4.6).
type SnapshotConfig struct {
	MinEvents     int   `mapstructure:"minEvents"`
	MinIntervalMs int64 `mapstructure:"minIntervalMs"`
	MinSignatures int   `mapstructure:"minSignatures"`
	MaxBytes      int   `mapstructure:"maxBytes"`
	MaxChunkBytes int   `mapstructure:"maxChunkBytes"`
}

// LoggingConfig mirrors the teacher's logging.level/logging.file keys,
// consumed by internal/telemetry to configure logrus.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Config is the unified node configuration, covering every key spec.md
// §6 enumerates.
type Config struct {
	Network        NetworkConfig  `mapstructure:"network"`
	P2P            P2PConfig      `mapstructure:"p2p"`
	SybilPolicy    string         `mapstructure:"sybilPolicy"`
	Sybil          SybilConfig    `mapstructure:"sybil"`
	Finality       FinalityConfig `mapstructure:"finality"`
	Snapshot       SnapshotConfig `mapstructure:"snapshot"`
	NonceWindow    uint64         `mapstructure:"nonceWindow"`
	MaxClockSkewMs int64          `mapstructure:"maxClockSkewMs"`
	MaxEventBytes  int            `mapstructure:"maxEventBytes"`
	Logging        LoggingConfig  `mapstructure:"logging"`

	DataDir string `mapstructure:"dataDir"`
}

// MaxClockSkew returns MaxClockSkewMs as a time.Duration.
func (c Config) MaxClockSkew() time.Duration { return time.Duration(c.MaxClockSkewMs) * time.Millisecond }

// FinalityTime returns Finality.TimeMs as a time.Duration.
func (c Config) FinalityTime() time.Duration { return time.Duration(c.Finality.TimeMs) * time.Millisecond }

// SnapshotMinInterval returns Snapshot.MinIntervalMs as a time.Duration.
func (c Config) SnapshotMinInterval() time.Duration {
	return time.Duration(c.Snapshot.MinIntervalMs) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network.name", "devnet")
	v.SetDefault("p2p.listen", []string{"/ip4/0.0.0.0/tcp/4001"})
	v.SetDefault("p2p.bootstrap", []string{})
	v.SetDefault("sybilPolicy", "none")
	v.SetDefault("sybil.allowlist", []string{})
	v.SetDefault("sybil.powDifficulty", 16)
	v.SetDefault("sybil.minStake", 0)
	v.SetDefault("finality.tier1Max", 100_000_000)
	v.SetDefault("finality.tier2Max", 1_000_000_000)
	v.SetDefault("finality.timeMs", int64(30*time.Minute/time.Millisecond))
	v.SetDefault("snapshot.minEvents", 10_000)
	v.SetDefault("snapshot.minIntervalMs", int64(time.Hour/time.Millisecond))
	v.SetDefault("snapshot.minSignatures", 1)
	v.SetDefault("snapshot.maxBytes", 64<<20)
	v.SetDefault("snapshot.maxChunkBytes", 256<<10)
	v.SetDefault("nonceWindow", 5)
	v.SetDefault("maxClockSkewMs", int64(10*time.Minute/time.Millisecond))
	v.SetDefault("maxEventBytes", 1<<20)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("dataDir", "./data")
}

// Load reads configDir/default.yaml (if present), merges
// configDir/<network>.yaml over it when network is non-empty and that file
// exists, lets CLAWNET_-prefixed environment variables override the
// result, and unmarshals it into a Config, mirroring
// the teacher's pkg/config.Load file+env precedence.
func Load(configDir, network string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("default")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read default config: %w", err)
		}
	}

	if network != "" {
		v.SetConfigName(network)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: merge %s config: %w", network, err)
			}
		}
	}

	v.SetEnvPrefix("CLAWNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
