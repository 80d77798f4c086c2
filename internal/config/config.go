// Package config loads the coordinator's tunables from CLI flags and
// environment variables, per spec.md section 6.3.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Recommended defaults from spec.md section 6.3.
const (
	DefaultChunkSize          = 1 << 20        // 1 MiB
	DefaultHeartbeatDeadMS    = 6000            // 6s
	DefaultLeaseTick          = 2 * time.Second
	DefaultLeaseTTL           = 5 * time.Second
	DefaultRebalancePeriod    = 10 * time.Second
	DefaultPredictPeriod      = 3 * time.Second
	DefaultPredictThresholdMS = 4000 // 4s
	DefaultCacheCount         = 5
	DefaultCacheBytes         = 200 << 20 // 200 MiB
	DefaultRequestLimitBytes  = 200 << 20 // 200 MiB
	DefaultRedisURL           = "redis://127.0.0.1:6379"
	DefaultChunkFetchTimeout  = 2 * time.Second
	DefaultNodeRequestTimeout = 3 * time.Second
	LockKey                   = "fs_master_lock"
)

// Config is the fully resolved set of coordinator tunables.
type Config struct {
	Port  string
	Nodes []string

	RedisURL string

	ChunkSize          int64
	HeartbeatDeadMS    int64
	LeaseTick          time.Duration
	LeaseTTL           time.Duration
	RebalancePeriod    time.Duration
	PredictPeriod      time.Duration
	PredictThresholdMS int64
	CacheCount         int
	CacheBytes         int64
	RequestLimitBytes  int64
	ChunkFetchTimeout  time.Duration
	NodeRequestTimeout time.Duration
}

// Load builds a cobra root command that, once executed, populates cfg
// from flags bound to environment variables through viper. run is the
// coordinator's entry point, invoked once flags are parsed and validated.
func Load(run func(cfg *Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetDefault("REDIS_URL", DefaultRedisURL)

	cmd := &cobra.Command{
		Use:           "coordinator",
		Short:         "chunkstore coordinator: chunked, replicated object store control plane",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			port, _ := cmd.Flags().GetString("port")
			if port == "" {
				return fmt.Errorf("PORT is required")
			}

			nodesFlag, _ := cmd.Flags().GetStringSlice("nodes")
			if v.IsSet("NODES") && len(nodesFlag) == 0 {
				nodesFlag = strings.Split(v.GetString("NODES"), ",")
			}

			cfg := &Config{
				Port:               port,
				Nodes:              nodesFlag,
				RedisURL:           v.GetString("REDIS_URL"),
				ChunkSize:          DefaultChunkSize,
				HeartbeatDeadMS:    DefaultHeartbeatDeadMS,
				LeaseTick:          DefaultLeaseTick,
				LeaseTTL:           DefaultLeaseTTL,
				RebalancePeriod:    DefaultRebalancePeriod,
				PredictPeriod:      DefaultPredictPeriod,
				PredictThresholdMS: DefaultPredictThresholdMS,
				CacheCount:         DefaultCacheCount,
				CacheBytes:         DefaultCacheBytes,
				RequestLimitBytes:  DefaultRequestLimitBytes,
				ChunkFetchTimeout:  DefaultChunkFetchTimeout,
				NodeRequestTimeout: DefaultNodeRequestTimeout,
			}

			return run(cfg)
		},
	}

	cmd.Flags().String("port", "", "HTTP port the coordinator listens on (required)")
	cmd.Flags().StringSlice("nodes", nil, "configured storage node URLs, in round-robin order")
	v.BindPFlag("PORT", cmd.Flags().Lookup("port"))
	v.BindPFlag("NODES", cmd.Flags().Lookup("nodes"))
	v.BindEnv("PORT")
	v.BindEnv("REDIS_URL")
	v.BindEnv("NODES")

	return cmd
}
