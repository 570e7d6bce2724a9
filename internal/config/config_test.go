package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("STORAGE_BACKEND", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreBackendMemory, cfg.Store.Backend)
	assert.Equal(t, StorageBackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, int64(20<<20), cfg.Storage.MaxUpload)
}

func TestLoad_KafkaBrokersList(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			JWT:     JWTConfig{AccessSecret: "s"},
			Store:   StoreConfig{Backend: StoreBackendMemory},
			Storage: StorageConfig{Backend: StorageBackendMemory},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "memory defaults", mutate: func(c *Config) {}},
		{name: "postgres without redis", mutate: func(c *Config) {
			c.Store.Backend = StoreBackendPostgres
			c.Database.DSN = "postgres://x"
		}, wantErr: true},
		{name: "postgres with redis", mutate: func(c *Config) {
			c.Store.Backend = StoreBackendPostgres
			c.Database.DSN = "postgres://x"
			c.Redis.Addr = "localhost:6379"
		}},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Backend = "sqlite" }, wantErr: true},
		{name: "minio without bucket", mutate: func(c *Config) {
			c.Storage.Backend = StorageBackendMinIO
			c.Storage.Endpoint = "localhost:9000"
		}, wantErr: true},
		{name: "empty secret", mutate: func(c *Config) { c.JWT.AccessSecret = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
