// Package config loads process configuration from the environment, with an
// optional .env file underneath. ENV > .env > defaults.
package config

import (
	"io/fs"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"clob/infra/logger"
)

type Config struct {
	DataDir     string `env:"DATA_DIR" envDefault:"./data"`
	SymbolsFile string `env:"SYMBOLS_FILE"` // JSON; built-in symbols when empty

	Log      logger.Config  `envPrefix:"LOG_"`
	Engine   EngineConfig   `envPrefix:"ENGINE_"`
	WAL      WALConfig      `envPrefix:"WAL_"`
	Snapshot SnapshotConfig `envPrefix:"SNAPSHOT_"`
	Kafka    KafkaConfig    `envPrefix:"KAFKA_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	GRPC     GRPCConfig     `envPrefix:"GRPC_"`
	HTTP     HTTPConfig     `envPrefix:"HTTP_"`
}

type EngineConfig struct {
	STP            string        `env:"STP" envDefault:"reject"` // reject | cancel_resting
	Ledger         string        `env:"LEDGER" envDefault:"noop"` // noop | memory
	QueueSize      int           `env:"QUEUE_SIZE" envDefault:"1024"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5s"`
	DepthInterval  time.Duration `env:"DEPTH_INTERVAL" envDefault:"1s"`
	DepthLevels    int           `env:"DEPTH_LEVELS" envDefault:"20"`
	AuditIndexSize int           `env:"AUDIT_INDEX_SIZE" envDefault:"100000"`
	FullAudit      bool          `env:"FULL_AUDIT" envDefault:"false"`
	WALRetries     int           `env:"WAL_RETRIES" envDefault:"3"`
	WALBackoff     time.Duration `env:"WAL_BACKOFF" envDefault:"5ms"`
	// Risk limits of the memory ledger, in base and quote units. Zero is off.
	MaxPosition      decimal.Decimal `env:"MAX_POSITION"`
	MaxDailyNotional decimal.Decimal `env:"MAX_DAILY_NOTIONAL"`
}

type WALConfig struct {
	SegmentSize     int64         `env:"SEGMENT_SIZE" envDefault:"67108864"`
	SegmentDuration time.Duration `env:"SEGMENT_DURATION" envDefault:"1h"`
	Sync            bool          `env:"SYNC" envDefault:"true"`
}

type SnapshotConfig struct {
	Interval time.Duration `env:"INTERVAL" envDefault:"30s"`
	Store    string        `env:"STORE" envDefault:"file"` // file | redis
	Keep     int           `env:"KEEP" envDefault:"3"`
}

// KafkaConfig enables the event relay and the command ingest when Brokers
// is set.
type KafkaConfig struct {
	Brokers       []string      `env:"BROKERS"`
	EventsTopic   string        `env:"EVENTS_TOPIC" envDefault:"clob.events"`
	CommandsTopic string        `env:"COMMANDS_TOPIC" envDefault:"clob.commands"`
	AcksTopic     string        `env:"ACKS_TOPIC" envDefault:"clob.acks"`
	GroupID       string        `env:"GROUP_ID" envDefault:"clob-engine"`
	RelayInterval time.Duration `env:"RELAY_INTERVAL" envDefault:"200ms"`
	MaxRetries    uint32        `env:"MAX_RETRIES" envDefault:"5"`
}

type RedisConfig struct {
	Addr      string `env:"ADDRESS" envDefault:"localhost:6379"`
	Password  string `env:"PASSWORD" envDefault:""`
	DB        int    `env:"DB" envDefault:"0"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"clob:snapshot:"`
}

type GRPCConfig struct {
	Addr string `env:"ADDR" envDefault:":9090"`
}

type HTTPConfig struct {
	Addr        string   `env:"ADDR" envDefault:":8080"`
	CORSOrigins []string `env:"CORS_ORIGINS" envDefault:"*"`
}

func (c Config) EntryWALDir(symbolKey string) string {
	return filepath.Join(c.DataDir, "wal", symbolKey)
}

func (c Config) OutboxDir() string {
	return filepath.Join(c.DataDir, "outbox")
}

func (c Config) SnapshotDir() string {
	return filepath.Join(c.DataDir, "snapshots")
}

func (c Config) Validate() error {
	switch {
	case c.Engine.QueueSize <= 0:
		return errors.New("ENGINE_QUEUE_SIZE must be positive")
	case c.Engine.WALRetries < 0:
		return errors.New("ENGINE_WAL_RETRIES must not be negative")
	case c.Snapshot.Store != "file" && c.Snapshot.Store != "redis":
		return errors.Newf("unknown SNAPSHOT_STORE %q", c.Snapshot.Store)
	case c.Engine.Ledger != "noop" && c.Engine.Ledger != "memory":
		return errors.Newf("unknown ENGINE_LEDGER %q", c.Engine.Ledger)
	case c.Engine.MaxPosition.IsNegative() || c.Engine.MaxDailyNotional.IsNegative():
		return errors.New("ENGINE_MAX_POSITION and ENGINE_MAX_DAILY_NOTIONAL must not be negative")
	}
	return nil
}

// MustLoad loads the configuration from environment variables and .env file.
func MustLoad[T any](cfg T) {
	_ = godotenv.Load() // Load environment variables from .env file

	env.Must(cfg, env.Parse(cfg))
}

// Load loads the configuration from environment variables and an optional
// .env file.
func Load[T any](cfg T) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, "load .env")
	}
	return errors.Wrap(env.Parse(cfg), "parse environment")
}

// FromMap parses cfg from vars only, ignoring the process environment.
func FromMap[T any](cfg T, vars map[string]string) error {
	return env.ParseWithOptions(cfg, env.Options{Environment: vars})
}
