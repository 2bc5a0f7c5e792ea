package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("POINTS_ACCRUAL_MODE", "")
	t.Setenv("CATALOG_CACHE_TTL", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, AccrualInline, cfg.PointsAccrualMode)
	assert.Equal(t, 5*time.Minute, cfg.CatalogCacheTTL)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POINTS_ACCRUAL_MODE", "Queued")
	t.Setenv("CATALOG_CACHE_TTL", "90s")
	t.Setenv("KAFKA_BROKERS", "a:9092, ,b:9092")
	t.Setenv("POINTS_WORKERS", "-3")
	t.Setenv("RUN_MIGRATIONS", "false")

	cfg := Load()
	assert.Equal(t, AccrualQueued, cfg.PointsAccrualMode)
	assert.Equal(t, 90*time.Second, cfg.CatalogCacheTTL)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 4, cfg.PointsWorkers)
	assert.False(t, cfg.RunMigrations)
}
