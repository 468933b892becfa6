// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for index, population and service
// settings.
//
// IMPORTANT: When changing values, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// ErrTypeInvalid marks configuration validation failures.
const ErrTypeInvalid = "invalid_config"

// =============================================================================
// DOMAIN & POPULATION CONFIGURATION
// =============================================================================

// DomainConfig holds the index domain and the generated population.
// These values are shared between every index the scene builds.
type DomainConfig struct {
	AreaLength    float64 // Side of the square domain in world units
	NumEntities   int     // Objects generated at start-up
	MaxEntitySize float64 // Upper bound of an object's radius
	MaxDepth      int     // Quadtree subdivision limit
	GridCells     int     // Grid cells per axis
	Seed          int64   // Population RNG seed
}

// DefaultDomain returns the default domain configuration.
func DefaultDomain() DomainConfig {
	return DomainConfig{
		AreaLength:    100 * 1000, // MaxEntitySize * 1000
		NumEntities:   100_000,
		MaxEntitySize: 100,
		MaxDepth:      8,
		GridCells:     20,
		Seed:          1,
	}
}

// DomainFromEnv returns domain configuration with environment variable overrides.
// Environment variables take precedence over defaults.
func DomainFromEnv() DomainConfig {
	cfg := DefaultDomain()

	if v := getEnvFloat("TREE_AREA_LENGTH", 0); v > 0 {
		cfg.AreaLength = v
	}
	if n := getEnvInt("TREE_NUM_ENTITIES", -1); n >= 0 {
		cfg.NumEntities = n
	}
	if v := getEnvFloat("TREE_MAX_ENTITY_SIZE", 0); v > 0 {
		cfg.MaxEntitySize = v
	}
	if d := getEnvInt("TREE_MAX_DEPTH", 0); d > 0 {
		cfg.MaxDepth = d
	}
	if c := getEnvInt("TREE_GRID_CELLS", 0); c > 0 {
		cfg.GridCells = c
	}
	if s := getEnvInt("TREE_SEED", 0); s != 0 {
		cfg.Seed = int64(s)
	}

	return cfg
}

// Validate reports the first setting the indexes cannot work with.
func (c DomainConfig) Validate() error {
	switch {
	case c.AreaLength <= 0:
		return invalid("area_length", c.AreaLength)
	case c.NumEntities < 0:
		return invalid("num_entities", c.NumEntities)
	case c.MaxEntitySize <= 0:
		return invalid("max_entity_size", c.MaxEntitySize)
	case c.MaxDepth < 1:
		return invalid("max_depth", c.MaxDepth)
	case c.GridCells < 1:
		return invalid("grid_cells", c.GridCells)
	}
	return nil
}

// =============================================================================
// CURSOR CONFIGURATION
// =============================================================================

// CursorConfig bounds the erase cursor.
type CursorConfig struct {
	DefaultSize float64 // Side of the square cursor
	MinSize     float64
	MaxSize     float64
	Step        float64 // Grow/Shrink increment
	ZoomFactor  float64 // Zoom multiplies or divides the size by this
}

// DefaultCursor returns the default cursor configuration.
func DefaultCursor() CursorConfig {
	return CursorConfig{
		DefaultSize: 50,
		MinSize:     10,
		MaxSize:     500,
		Step:        10,
		ZoomFactor:  1.1,
	}
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port          int
	MaxResults    int           // Objects returned per query before truncation
	ShutdownGrace time.Duration // Time allowed for in-flight requests on exit
	MaxWSClients  int
	MaxWSPerIP    int
	WSQueryPerSec int // Viewport queries accepted per WebSocket connection
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:          3000,
		MaxResults:    5000,
		ShutdownGrace: 5 * time.Second,
		MaxWSClients:  100,
		MaxWSPerIP:    5,
		WSQueryPerSec: 30,
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if m := getEnvInt("MAX_RESULTS", 0); m > 0 {
		cfg.MaxResults = m
	}
	if c := getEnvInt("MAX_WS_CLIENTS", 0); c > 0 {
		cfg.MaxWSClients = c
	}
	if c := getEnvInt("MAX_WS_PER_IP", 0); c > 0 {
		cfg.MaxWSPerIP = c
	}
	if q := getEnvInt("WS_QUERIES_PER_SEC", 0); q > 0 {
		cfg.WSQueryPerSec = q
	}

	return cfg
}

// =============================================================================
// RATE LIMIT CONFIGURATION
// =============================================================================

// RateLimitConfig holds per-IP HTTP rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	CleanupInterval   time.Duration
	EntryTTL          time.Duration
}

// DefaultRateLimit returns the default rate limit configuration.
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
		CleanupInterval:   time.Minute,
		EntryTTL:          5 * time.Minute,
	}
}

// RateLimitFromEnv returns rate limit configuration with environment variable overrides.
func RateLimitFromEnv() RateLimitConfig {
	cfg := DefaultRateLimit()

	if r := getEnvFloat("RATE_LIMIT_RPS", 0); r > 0 {
		cfg.RequestsPerSecond = r
	}
	if b := getEnvInt("RATE_LIMIT_BURST", 0); b > 0 {
		cfg.BurstSize = b
	}

	return cfg
}

// =============================================================================
// OBSERVABILITY CONFIGURATION
// =============================================================================

// ObservabilityConfig holds debug server settings.
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // Keep on localhost unless protected by auth
	BasicAuthUser string
	BasicAuthPass string
	LogLevel      string
}

// DefaultObservability returns the default observability configuration.
func DefaultObservability() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
		LogLevel:   "info",
	}
}

// ObservabilityFromEnv returns observability configuration with environment variable overrides.
func ObservabilityFromEnv() ObservabilityConfig {
	cfg := DefaultObservability()

	if os.Getenv("DEBUG_SERVER_ENABLED") == "false" {
		cfg.Enabled = false
	}
	if addr := os.Getenv("DEBUG_SERVER_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	cfg.BasicAuthUser = os.Getenv("DEBUG_AUTH_USER")
	cfg.BasicAuthPass = os.Getenv("DEBUG_AUTH_PASS")
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Domain        DomainConfig
	Cursor        CursorConfig
	Server        ServerConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Domain:        DomainFromEnv(),
		Cursor:        DefaultCursor(),
		Server:        ServerFromEnv(),
		RateLimit:     RateLimitFromEnv(),
		Observability: ObservabilityFromEnv(),
	}
}

// Validate checks every section that can be misconfigured from outside.
func (c AppConfig) Validate() error {
	if err := c.Domain.Validate(); err != nil {
		return err
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("port", c.Server.Port)
	}
	if c.Server.MaxResults < 1 {
		return invalid("max_results", c.Server.MaxResults)
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func invalid(name string, value any) error {
	return errors.Newf("invalid %s", name).
		WithType(ErrTypeInvalid).
		WithTag(name, value)
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
