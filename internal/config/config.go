package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperr "github.com/ggonzalez94/ethquery/internal/errors"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath = "ETHQUERY_CONFIG"
	EnvRPCURL     = "ETH_RPC_URL"
	EnvPrivateKey = "PRIVATE_KEY"
	EnvChainID    = "DEFAULT_CHAIN_ID"
	EnvLogLevel   = "ETHQUERY_LOG_LEVEL"
)

// Settings is the resolved runtime configuration. Values are read once at
// startup and never mutated afterwards.
type Settings struct {
	RPCURL       string
	ChainID      int64
	PrivateKey   string
	CallTimeout  time.Duration
	RateLimitRPS float64
	StaleAfter   time.Duration
	MetricsAddr  string
	CachePath    string
	CacheLock    string
	LogLevel     string
}

type fileConfig struct {
	RPCURL     string `yaml:"rpc_url"`
	ChainID    *int64 `yaml:"chain_id"`
	PrivateKey string `yaml:"private_key"`
	Timeout    string `yaml:"timeout"`
	RateLimit  *float64 `yaml:"rate_limit_rps"`
	LogLevel   string `yaml:"log_level"`
	Price      struct {
		StaleAfter string `yaml:"stale_after"`
	} `yaml:"price"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	TokenCache struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"token_cache"`
}

// Load resolves settings from defaults, then an optional YAML file, then
// environment variables. The RPC URL is the only mandatory value.
func Load(configPath string) (Settings, error) {
	settings := defaultSettings()

	path := strings.TrimSpace(configPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path != "" {
		if err := applyFileConfig(path, &settings); err != nil {
			return Settings{}, err
		}
	}

	applyEnv(&settings)

	if strings.TrimSpace(settings.RPCURL) == "" {
		return Settings{}, apperr.Newf(apperr.CodeConfig, "%s missing (no config file or env var)", EnvRPCURL)
	}
	if settings.ChainID <= 0 {
		settings.ChainID = 1
	}
	if settings.CallTimeout <= 0 {
		settings.CallTimeout = 10 * time.Second
	}
	return settings, nil
}

func defaultSettings() Settings {
	cacheDir := defaultCacheDir()
	return Settings{
		ChainID:      1,
		CallTimeout:  10 * time.Second,
		RateLimitRPS: 20,
		StaleAfter:   time.Hour,
		CachePath:    filepath.Join(cacheDir, "tokens.db"),
		CacheLock:    filepath.Join(cacheDir, "tokens.lock"),
		LogLevel:     "info",
	}
}

func applyFileConfig(path string, settings *Settings) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return apperr.Wrap(apperr.CodeConfig, "read config file", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return apperr.Wrap(apperr.CodeConfig, "parse config file", err)
	}

	if strings.TrimSpace(cfg.RPCURL) != "" {
		settings.RPCURL = strings.TrimSpace(cfg.RPCURL)
	}
	if cfg.ChainID != nil && *cfg.ChainID > 0 {
		settings.ChainID = *cfg.ChainID
	}
	if strings.TrimSpace(cfg.PrivateKey) != "" {
		settings.PrivateKey = strings.TrimSpace(cfg.PrivateKey)
	}
	if cfg.RateLimit != nil && *cfg.RateLimit > 0 {
		settings.RateLimitRPS = *cfg.RateLimit
	}
	if strings.TrimSpace(cfg.LogLevel) != "" {
		settings.LogLevel = strings.TrimSpace(cfg.LogLevel)
	}
	if strings.TrimSpace(cfg.Metrics.Addr) != "" {
		settings.MetricsAddr = strings.TrimSpace(cfg.Metrics.Addr)
	}
	if strings.TrimSpace(cfg.TokenCache.Path) != "" {
		settings.CachePath = strings.TrimSpace(cfg.TokenCache.Path)
	}
	if strings.TrimSpace(cfg.TokenCache.LockPath) != "" {
		settings.CacheLock = strings.TrimSpace(cfg.TokenCache.LockPath)
	}
	if err := applyDuration(cfg.Timeout, &settings.CallTimeout); err != nil {
		return apperr.Wrap(apperr.CodeConfig, "parse timeout", err)
	}
	if err := applyDuration(cfg.Price.StaleAfter, &settings.StaleAfter); err != nil {
		return apperr.Wrap(apperr.CodeConfig, "parse price.stale_after", err)
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := strings.TrimSpace(os.Getenv(EnvRPCURL)); v != "" {
		settings.RPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPrivateKey)); v != "" {
		settings.PrivateKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvChainID)); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			settings.ChainID = id
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		settings.LogLevel = v
	}
}

func applyDuration(raw string, target *time.Duration) error {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return nil
	}
	parsed, err := time.ParseDuration(clean)
	if err != nil {
		return err
	}
	if parsed > 0 {
		*target = parsed
	}
	return nil
}

func defaultCacheDir() string {
	base := strings.TrimSpace(os.Getenv("XDG_CACHE_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return "."
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "ethquery")
}
