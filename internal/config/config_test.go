package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv("CACHE_RESULTS_TTL", "")
	t.Setenv("CACHE_COUNT_TTL", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("MEDIA_S3_ENDPOINT", "")

	cfg := New()

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 60*time.Second, cfg.CacheResultsTTL)
	assert.Equal(t, 120*time.Second, cfg.CacheCountTTL)
	assert.False(t, cfg.S3Enabled())
}

func TestNew_FromEnvironment(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("CACHE_RESULTS_TTL", "5s")
	t.Setenv("CACHE_COUNT_TTL", "not a duration")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("REDIS_PORT", "")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MEDIA_S3_ENDPOINT", "https://s3.example")
	t.Setenv("MEDIA_S3_ACCESS_KEY_ID", "key")

	cfg := New()

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "redis", cfg.CacheBackend)
	assert.Equal(t, 5*time.Second, cfg.CacheResultsTTL)
	assert.Equal(t, 120*time.Second, cfg.CacheCountTTL)
	assert.True(t, cfg.LogPretty)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.S3Enabled())
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
}
