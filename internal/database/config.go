package database

import (
	"os"
	"strconv"
)

// Config holds the database configuration
type Config struct {
	URL            string `yaml:"url"`
	AuthToken      string `yaml:"auth_token"`
	EmbeddingDims  int    `yaml:"embedding_dims"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	MaxIdleConns   int    `yaml:"max_idle_conns"`
	ConnMaxIdleSec int    `yaml:"conn_max_idle_sec"`
	ConnMaxLifeSec int    `yaml:"conn_max_life_sec"`
}

// NewConfig creates a new Config from environment variables
func NewConfig() *Config {
	url := os.Getenv("LIBSQL_URL")
	if url == "" {
		url = "file:./libsql.db"
	}

	return &Config{
		URL:            url,
		AuthToken:      os.Getenv("LIBSQL_AUTH_TOKEN"),
		EmbeddingDims:  envInt("EMBEDDING_DIMS", 384),
		MaxOpenConns:   envInt("DB_MAX_OPEN_CONNS", 0),
		MaxIdleConns:   envInt("DB_MAX_IDLE_CONNS", 0),
		ConnMaxIdleSec: envInt("DB_CONN_MAX_IDLE_SEC", 0),
		ConnMaxLifeSec: envInt("DB_CONN_MAX_LIFETIME_SEC", 0),
	}
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
