// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/solana-pricer/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/solana-pricer/internal/fetcher"
	"github.com/rovshanmuradov/solana-pricer/internal/pricing"
	"github.com/rovshanmuradov/solana-pricer/internal/publish"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/logger"
)

// EnvPrefix prefixes every environment override, e.g. SOLANA_PRICER_RPC_TIMEOUT.
const EnvPrefix = "SOLANA_PRICER"

type Config struct {
	RPC        RPCConfig        `mapstructure:"rpc"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Calculator CalculatorConfig `mapstructure:"calculator"`
	Decoders   DecodersConfig   `mapstructure:"decoders"`
	Tokens     TokensConfig     `mapstructure:"tokens"`
	Pools      PoolsConfig      `mapstructure:"pools"`
	Publish    PublishConfig    `mapstructure:"publish"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type RPCConfig struct {
	Endpoints         []string      `mapstructure:"endpoints"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxBatchSize      int           `mapstructure:"max_batch_size"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	MaxFailures      uint32        `mapstructure:"max_failures"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	HalfOpenRequests uint32        `mapstructure:"half_open_requests"`
}

type FetcherConfig struct {
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	PositionStaleness time.Duration `mapstructure:"position_staleness"`
	DefaultStaleness  time.Duration `mapstructure:"default_staleness"`
	ChunkDelay        time.Duration `mapstructure:"chunk_delay"`
	RequestBuffer     int           `mapstructure:"request_buffer"`
}

type CalculatorConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
	// Corrections maps a protocol tag to an empirical price factor.
	Corrections map[string]float64 `mapstructure:"corrections"`
}

type DecodersConfig struct {
	LegacyAMMProgram string  `mapstructure:"legacy_amm_program"`
	MinConfidenceSOL float64 `mapstructure:"min_confidence_sol"`
}

type TokensConfig struct {
	DecimalsCacheSize int           `mapstructure:"decimals_cache_size"`
	MintBatchDelay    time.Duration `mapstructure:"mint_batch_delay"`
	// OpenPositions seeds the set of mints refreshed on the short staleness threshold.
	OpenPositions []string `mapstructure:"open_positions"`
}

type PoolsConfig struct {
	File string `mapstructure:"file"`
	// ReloadInterval is how often the file is checked for changes. Zero disables reloads.
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
}

type PublishConfig struct {
	Redis       RedisConfig   `mapstructure:"redis"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	History     HistoryConfig `mapstructure:"history"`
}

// HistoryConfig enables the CSV price history. An empty file disables it.
type HistoryConfig struct {
	File          string        `mapstructure:"file"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type RedisConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	ChannelPrefix string        `mapstructure:"channel_prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

const (
	DefaultRPCTimeout        = 10 * time.Second
	DefaultMaxBatchSize      = 100
	DefaultRequestsPerSecond = 10
	DefaultBurst             = 5
	DefaultMinConfidenceSOL  = 100
	DefaultDecimalsCacheSize = 10000
	DefaultMintBatchDelay    = 250 * time.Millisecond
	DefaultPublishInterval   = 250 * time.Millisecond
	DefaultServerAddr        = ":8088"
	DefaultPoolsReload       = 30 * time.Second
)

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"rpc.endpoints":                  []string{},
		"rpc.timeout":                    DefaultRPCTimeout,
		"rpc.max_batch_size":             DefaultMaxBatchSize,
		"rpc.requests_per_second":        DefaultRequestsPerSecond,
		"rpc.burst":                      DefaultBurst,
		"rpc.breaker.max_failures":       5,
		"rpc.breaker.open_timeout":       30 * time.Second,
		"rpc.breaker.half_open_requests": 1,

		"fetcher.tick_interval":      fetcher.DefaultTickInterval,
		"fetcher.position_staleness": fetcher.DefaultPositionStaleness,
		"fetcher.default_staleness":  fetcher.DefaultStaleness,
		"fetcher.chunk_delay":        fetcher.DefaultChunkDelay,
		"fetcher.request_buffer":     fetcher.DefaultRequestBuffer,

		"calculator.workers":     pricing.DefaultWorkers,
		"calculator.queue_size":  pricing.DefaultQueueSize,
		"calculator.corrections": map[string]float64{},

		"decoders.legacy_amm_program": "",
		"decoders.min_confidence_sol": DefaultMinConfidenceSOL,

		"tokens.decimals_cache_size": DefaultDecimalsCacheSize,
		"tokens.mint_batch_delay":    DefaultMintBatchDelay,
		"tokens.open_positions":      []string{},

		"pools.file":            "",
		"pools.reload_interval": DefaultPoolsReload,

		"publish.redis.enabled":          false,
		"publish.redis.addr":             "localhost:6379",
		"publish.redis.password":         "",
		"publish.redis.db":               0,
		"publish.redis.channel_prefix":   publish.DefaultChannelPrefix,
		"publish.redis.ttl":              publish.DefaultLatestTTL,
		"publish.min_interval":           DefaultPublishInterval,
		"publish.history.file":           "",
		"publish.history.flush_interval": publish.DefaultHistoryFlushInterval,

		"server.enabled": true,
		"server.addr":    DefaultServerAddr,

		"logging.level":        "info",
		"logging.file":         "logs/pricer.log",
		"logging.max_size_mb":  100,
		"logging.max_backups":  5,
		"logging.max_age_days": 30,
		"logging.compress":     true,
	}
}

// Load reads the YAML file at path (optional when empty), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	loadEnvironmentLists(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadEnvironmentLists splits comma-separated list overrides, trimming blanks.
func loadEnvironmentLists(cfg *Config) {
	cfg.RPC.Endpoints = flattenList(cfg.RPC.Endpoints)
	cfg.Tokens.OpenPositions = flattenList(cfg.Tokens.OpenPositions)
}

func flattenList(items []string) []string {
	var out []string
	for _, item := range items {
		out = append(out, splitList(item)...)
	}
	return out
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if clean := strings.TrimSpace(item); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}

func (c *Config) validate() error {
	if len(c.RPC.Endpoints) == 0 {
		return errors.New("rpc.endpoints is empty")
	}
	for _, rpcURL := range c.RPC.Endpoints {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return fmt.Errorf("rpc endpoint %q: %w", rpcURL, err)
		}
	}
	if c.RPC.MaxBatchSize < 1 || c.RPC.MaxBatchSize > rpc.MaxAccountsPerRequest {
		return fmt.Errorf("rpc.max_batch_size must be within 1..%d", rpc.MaxAccountsPerRequest)
	}
	if c.RPC.Timeout <= 0 {
		return errors.New("invalid rpc.timeout")
	}
	if c.RPC.RequestsPerSecond < 0 {
		return errors.New("invalid rpc.requests_per_second")
	}
	if err := validateNumericParams(c); err != nil {
		return err
	}
	if c.Decoders.LegacyAMMProgram != "" {
		if _, err := solana.PublicKeyFromBase58(c.Decoders.LegacyAMMProgram); err != nil {
			return fmt.Errorf("decoders.legacy_amm_program: %w", err)
		}
	}
	for _, mint := range c.Tokens.OpenPositions {
		if _, err := solana.PublicKeyFromBase58(mint); err != nil {
			return fmt.Errorf("tokens.open_positions %q: %w", mint, err)
		}
	}
	for protocol, factor := range c.Calculator.Corrections {
		if factor <= 0 {
			return fmt.Errorf("calculator.corrections.%s must be positive", protocol)
		}
	}
	if c.Publish.Redis.Enabled && c.Publish.Redis.Addr == "" {
		return errors.New("publish.redis.addr is required when redis is enabled")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return errors.New("server.addr is required when the server is enabled")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}
	return nil
}

func validateNumericParams(c *Config) error {
	if c.Fetcher.TickInterval <= 0 {
		return errors.New("invalid fetcher.tick_interval")
	}
	if c.Fetcher.PositionStaleness <= 0 || c.Fetcher.DefaultStaleness <= 0 {
		return errors.New("invalid fetcher staleness thresholds")
	}
	if c.Fetcher.PositionStaleness > c.Fetcher.DefaultStaleness {
		return errors.New("fetcher.position_staleness exceeds fetcher.default_staleness")
	}
	if c.Fetcher.ChunkDelay < 0 {
		return errors.New("invalid fetcher.chunk_delay")
	}
	if c.Calculator.Workers <= 0 {
		return errors.New("invalid calculator.workers")
	}
	if c.Calculator.QueueSize <= 0 {
		return errors.New("invalid calculator.queue_size")
	}
	if c.Decoders.MinConfidenceSOL <= 0 {
		return errors.New("invalid decoders.min_confidence_sol")
	}
	if c.Tokens.DecimalsCacheSize <= 0 {
		return errors.New("invalid tokens.decimals_cache_size")
	}
	if c.Pools.ReloadInterval < 0 {
		return errors.New("invalid pools.reload_interval")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) || parsed.Host == "" {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

// Transport converts the rpc section.
func (c RPCConfig) Transport() rpc.Config {
	return rpc.Config{
		Endpoints:         c.Endpoints,
		Timeout:           c.Timeout,
		MaxBatchSize:      c.MaxBatchSize,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		Breaker: rpc.BreakerConfig{
			MaxFailures:      c.Breaker.MaxFailures,
			OpenTimeout:      c.Breaker.OpenTimeout,
			HalfOpenRequests: c.Breaker.HalfOpenRequests,
		},
	}
}

// Loop converts the fetcher section.
func (c FetcherConfig) Loop() fetcher.Config {
	return fetcher.Config{
		TickInterval:      c.TickInterval,
		PositionStaleness: c.PositionStaleness,
		DefaultStaleness:  c.DefaultStaleness,
		ChunkDelay:        c.ChunkDelay,
		RequestBuffer:     c.RequestBuffer,
	}
}

// Pool converts the calculator section.
func (c CalculatorConfig) Pool() pricing.Config {
	return pricing.Config{Workers: c.Workers, QueueSize: c.QueueSize}
}

// LegacyProgram returns the configured legacy layout program, zero when disabled.
func (c DecodersConfig) LegacyProgram() solana.PublicKey {
	if c.LegacyAMMProgram == "" {
		return solana.PublicKey{}
	}
	key, err := solana.PublicKeyFromBase58(c.LegacyAMMProgram)
	if err != nil {
		return solana.PublicKey{}
	}
	return key
}

// Mints parses the open position seed list; validate has already rejected bad keys.
func (c TokensConfig) Mints() []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(c.OpenPositions))
	for _, raw := range c.OpenPositions {
		if key, err := solana.PublicKeyFromBase58(raw); err == nil {
			out = append(out, key)
		}
	}
	return out
}

// Sink converts the redis section.
func (c RedisConfig) Sink() publish.RedisConfig {
	return publish.RedisConfig{
		Addr:          c.Addr,
		Password:      c.Password,
		DB:            c.DB,
		ChannelPrefix: c.ChannelPrefix,
		TTL:           c.TTL,
	}
}

// Logger converts the logging section.
func (c LoggingConfig) Logger() *logger.Config {
	return &logger.Config{
		Level:      strings.ToLower(c.Level),
		LogFile:    c.File,
		MaxSize:    c.MaxSizeMB,
		MaxAge:     c.MaxAgeDays,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
		Console:    true,
	}
}
