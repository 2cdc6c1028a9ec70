package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, FromMap(&cfg, map[string]string{}))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "reject", cfg.Engine.STP)
	assert.Equal(t, 1024, cfg.Engine.QueueSize)
	assert.Equal(t, time.Second, cfg.Engine.DepthInterval)
	assert.True(t, cfg.WAL.Sync)
	assert.Equal(t, int64(64<<20), cfg.WAL.SegmentSize)
	assert.Equal(t, "file", cfg.Snapshot.Store)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
}

func TestPrefixedOverrides(t *testing.T) {
	var cfg Config
	require.NoError(t, FromMap(&cfg, map[string]string{
		"DATA_DIR":              "/var/lib/clob",
		"ENGINE_STP":            "cancel_resting",
		"WAL_SYNC":              "false",
		"KAFKA_BROKERS":         "k1:9092,k2:9092",
		"SNAPSHOT_STORE":        "redis",
		"SNAPSHOT_INTERVAL":     "1m",
		"LOG_LEVEL":             "debug",
		"ENGINE_DEPTH_INTERVAL": "250ms",
	}))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "cancel_resting", cfg.Engine.STP)
	assert.False(t, cfg.WAL.Sync)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, time.Minute, cfg.Snapshot.Interval)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.DepthInterval)
	assert.Equal(t, "/var/lib/clob/wal/BTC-USDT", cfg.EntryWALDir("BTC-USDT"))
}

func TestValidate(t *testing.T) {
	var cfg Config
	require.NoError(t, FromMap(&cfg, map[string]string{"SNAPSHOT_STORE": "s3"}))
	assert.Error(t, cfg.Validate())

	require.NoError(t, FromMap(&cfg, map[string]string{"ENGINE_QUEUE_SIZE": "0"}))
	assert.Error(t, cfg.Validate())

	cfg = Config{}
	require.NoError(t, FromMap(&cfg, map[string]string{"ENGINE_MAX_POSITION": "-1"}))
	assert.Error(t, cfg.Validate())
}

func TestRiskLimits(t *testing.T) {
	var cfg Config
	require.NoError(t, FromMap(&cfg, map[string]string{}))
	assert.True(t, cfg.Engine.MaxPosition.IsZero())

	require.NoError(t, FromMap(&cfg, map[string]string{
		"ENGINE_LEDGER":             "memory",
		"ENGINE_MAX_POSITION":       "12.5",
		"ENGINE_MAX_DAILY_NOTIONAL": "1000000",
	}))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "12.5", cfg.Engine.MaxPosition.String())
	assert.Equal(t, "1000000", cfg.Engine.MaxDailyNotional.String())
}
