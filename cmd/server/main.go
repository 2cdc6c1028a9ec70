package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"clob/api/grpcserver"
	"clob/api/httpserver"
	"clob/config"
	"clob/domain/events"
	"clob/domain/ledger"
	"clob/domain/matching"
	"clob/domain/symbol"
	"clob/infra/kafka"
	"clob/infra/logger"
	"clob/infra/metrics"
	entrywal "clob/infra/wal/entry"
	exitwal "clob/infra/wal/exit"
	"clob/jobs/broadcaster"
	"clob/jobs/ingest"
	"clob/service"
	"clob/snapshot"
)

func main() {
	var cfg config.Config
	config.MustLoad(&cfg)

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("engine stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// ---------------- Symbols ----------------

	specs, err := symbol.LoadFile(cfg.SymbolsFile)
	if err != nil {
		return err
	}
	registry, err := symbol.NewRegistryFromSpecs(specs)
	if err != nil {
		return err
	}
	stp, err := matching.ParseSTP(cfg.Engine.STP)
	if err != nil {
		return err
	}

	// ---------------- Storage ----------------

	outbox, err := exitwal.Open(cfg.OutboxDir())
	if err != nil {
		return errors.Wrap(err, "open outbox")
	}
	defer outbox.Close()

	var snapshots snapshot.Store = &snapshot.FileStore{Dir: cfg.SnapshotDir(), Keep: cfg.Snapshot.Keep}
	if cfg.Snapshot.Store == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return errors.Wrapf(err, "redis %s", cfg.Redis.Addr)
		}
		snapshots = snapshot.NewRedisStore(rdb, cfg.Redis.KeyPrefix, cfg.Snapshot.Keep)
	}

	openLog := func(sym *symbol.Symbol) (service.CommandLog, error) {
		return entrywal.Open(entrywal.Config{
			Dir:             cfg.EntryWALDir(sym.Key()),
			SegmentSize:     cfg.WAL.SegmentSize,
			SegmentDuration: cfg.WAL.SegmentDuration,
			Sync:            cfg.WAL.Sync,
		})
	}

	var led ledger.Ledger = ledger.Noop{}
	if cfg.Engine.Ledger == "memory" {
		mem := ledger.NewMemory()
		mem.SetLimits(ledger.Limits{
			MaxPosition:      cfg.Engine.MaxPosition,
			MaxDailyNotional: cfg.Engine.MaxDailyNotional,
		})
		led = mem
	}

	// ---------------- Service ----------------

	hub := httpserver.NewHub(registryResolver{registry}, 0, m, log)

	svc, err := service.NewOrderService(service.Config{
		STP:            stp,
		QueueSize:      cfg.Engine.QueueSize,
		DepthInterval:  cfg.Engine.DepthInterval,
		DepthLevels:    cfg.Engine.DepthLevels,
		AuditIndexSize: cfg.Engine.AuditIndexSize,
		FullAudit:      cfg.Engine.FullAudit,
		WALRetries:     cfg.Engine.WALRetries,
		WALBackoff:     cfg.Engine.WALBackoff,
	}, service.Deps{
		Registry:  registry,
		OpenLog:   openLog,
		Outbox:    outbox,
		Snapshots: snapshots,
		Ledger:    led,
		Live:      events.Fanout{hub},
		Metrics:   m,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return errors.Wrap(err, "recover symbols")
	}
	defer svc.Close()

	svc.StartSnapshotJob(ctx, cfg.Snapshot.Interval)

	errc := make(chan error, 4)

	// ---------------- Kafka ----------------

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := broadcaster.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		bc := broadcaster.New(outbox, producer, broadcaster.Config{
			Topic:      cfg.Kafka.EventsTopic,
			Interval:   cfg.Kafka.RelayInterval,
			MaxRetries: cfg.Kafka.MaxRetries,
		}, m, log)
		bc.Start(ctx)
		defer bc.Close()

		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.CommandsTopic, cfg.Kafka.GroupID)
		defer consumer.Close()
		acks := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AcksTopic)
		defer acks.Close()

		in := ingest.New(consumer, acks, svc, cfg.Engine.RequestTimeout, m, log)
		go func() { errc <- in.Run(ctx) }()
	} else {
		log.Info("no kafka brokers configured, relay and ingest disabled")
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.GRPC.Addr)
	}
	grpcSrv, health := grpcserver.NewGRPCServer(grpcserver.NewServer(svc, log))
	go func() { errc <- errors.Wrap(grpcSrv.Serve(lis), "grpc serve") }()
	log.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr))

	// ---------------- HTTP ----------------

	httpSrv := httpserver.New(httpserver.Config{
		Addr:           cfg.HTTP.Addr,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		RequestTimeout: cfg.Engine.RequestTimeout,
	}, svc, hub, m, log)
	go func() { errc <- httpSrv.Run(ctx) }()

	log.Info("engine running", zap.Int("symbols", len(registry.List())))

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errc:
		log.Error("component failed", zap.Error(err))
	}
	health.Shutdown()
	grpcSrv.GracefulStop()
	return err
}

type registryResolver struct {
	*symbol.Registry
}

func (r registryResolver) Symbol(name string) (*symbol.Symbol, error) {
	s, ok := r.Get(name)
	if !ok {
		return nil, errors.Wrapf(service.ErrUnknownSymbol, "%q", name)
	}
	return s, nil
}
