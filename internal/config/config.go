package config

import (
	"fmt"
	"os"
	"strconv"
)

// Backend names accepted in AIBUM_STORE.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

type Config struct {
	Store   StoreConfig
	Cluster ClusterConfig
	Worker  WorkerConfig
	Log     LogConfig
	Server  ServerConfig
}

type StoreConfig struct {
	Backend     string // file or postgres
	Path        string // JSON file for the file backend
	DatabaseURL string // PostgreSQL connection string for the postgres backend
}

type ClusterConfig struct {
	Threshold   float64 // Euclidean match threshold, defaults to 0.6
	Dimension   int     // embedding length, defaults to 128
	MatchPolicy string  // representative or any-member
	IDSeed      string  // optional seed for reproducible group ids
}

type WorkerConfig struct {
	Engines int    // parallel detection workers
	Python  string // interpreter, defaults to python3
	Script  string // detection worker script
}

type LogConfig struct {
	Level  string
	Format string
}

type ServerConfig struct {
	Host string
	Port int
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a positive float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// databaseURL prefers DATABASE_URL and otherwise builds the connection string from POSTGRES_* variables.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	// Fallback to local default if no env vars are present
	return "postgres://localhost:5432/aibum"
}

// Load reads the configuration from the environment.
func Load() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:     envString("AIBUM_STORE", BackendFile),
			Path:        envString("AIBUM_STORE_PATH", "personGroups.json"),
			DatabaseURL: databaseURL(),
		},
		Cluster: ClusterConfig{
			Threshold:   envFloat("AIBUM_THRESHOLD", 0.6),
			Dimension:   envInt("AIBUM_DIM", 128),
			MatchPolicy: envString("AIBUM_MATCH_POLICY", "representative"),
			IDSeed:      os.Getenv("AIBUM_ID_SEED"),
		},
		Worker: WorkerConfig{
			Engines: envInt("AIBUM_WORKERS", 1),
			Python:  envString("AIBUM_PYTHON", "python3"),
			Script:  envString("AIBUM_WORKER_SCRIPT", "python/worker.py"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
		Server: ServerConfig{
			Host: envString("AIBUM_HOST", "0.0.0.0"),
			Port: envInt("AIBUM_PORT", 8080),
		},
	}
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendFile:
		if c.Store.Path == "" {
			return fmt.Errorf("store path must not be empty")
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("database URL must not be empty")
		}
	default:
		return fmt.Errorf("unknown store backend %q (use %q or %q)", c.Store.Backend, BackendFile, BackendPostgres)
	}
	if c.Cluster.Threshold <= 0 {
		return fmt.Errorf("match threshold must be positive, got %f", c.Cluster.Threshold)
	}
	if c.Cluster.Dimension < 0 {
		return fmt.Errorf("embedding dimension must not be negative, got %d", c.Cluster.Dimension)
	}
	if c.Worker.Engines < 1 {
		c.Worker.Engines = 1
	}
	return nil
}
