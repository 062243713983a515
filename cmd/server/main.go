package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hongjun500/im-go/internal/broker"
	"github.com/hongjun500/im-go/internal/config"
	"github.com/hongjun500/im-go/internal/hooks"
	"github.com/hongjun500/im-go/internal/observe"
	"github.com/hongjun500/im-go/internal/offline"
	"github.com/hongjun500/im-go/internal/pipeline"
	"github.com/hongjun500/im-go/internal/registry"
	"github.com/hongjun500/im-go/internal/router"
	"github.com/hongjun500/im-go/internal/seq"
	"github.com/hongjun500/im-go/internal/server"
	"github.com/hongjun500/im-go/internal/session"
	"github.com/hongjun500/im-go/internal/store"
	"github.com/hongjun500/im-go/pkg/logger"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "配置文件路径，留空则只用环境变量和默认值")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.L().Sugar().Fatalw("config_load_failed", "err", err)
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()[:8]
	}
	log := logger.L().Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// redis 可达则走分布式实现，否则退化成单机进程内实现
	var (
		sessions session.Store
		brk      broker.Broker
		seqGen   seq.Seq
		backlog  offline.Store
		dedup    pipeline.Dedup
	)
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	pingErr := rdb.Ping(pingCtx).Err()
	cancel()
	if pingErr != nil {
		log.Warnw("redis_unreachable_standalone_mode", "addr", cfg.Redis.Addr, "err", pingErr)
		sessions = session.NewMemoryStore()
		brk = broker.NewMemoryBroker()
		seqGen = seq.NewMemorySeq()
		backlog = offline.NewMemoryStore(cfg.OfflineMax)
		dedup = pipeline.NewMemoryDedup()
	} else {
		sessions = session.NewRedisStore(rdb)
		brk = broker.NewRedisBroker(rdb)
		seqGen = seq.NewRedisSeq(rdb)
		backlog = offline.NewRedisStore(rdb, cfg.OfflineMax)
		dedup = pipeline.NewRedisDedup(rdb)
	}

	var msgStore store.MessageStore
	if cfg.Mongo.URI != "" {
		ms, err := store.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			log.Fatalw("mongo_connect_failed", "uri", cfg.Mongo.URI, "err", err)
		}
		msgStore = ms
	} else {
		log.Warnw("mongo_uri_empty_memory_store")
		msgStore = store.NewMemoryStore()
	}

	reg := registry.New()
	deliver := pipeline.NewDeliverer(cfg.NodeID, reg, sessions, brk)
	svc := pipeline.NewService(pipeline.Options{
		Dedup:       dedup,
		Seq:         seqGen,
		Store:       msgStore,
		Offline:     backlog,
		Deliver:     deliver,
		Auth:        hooks.AllowAll{},
		Callback:    hooks.NopCallback{},
		UseCallback: cfg.SendCallback,
		Workers:     cfg.Workers,
		WorkerQueue: cfg.WorkerQueue,
	})

	resolver := registry.NewResolver(cfg.LoginMode, reg, nil)
	go func() {
		if err := brk.SubscribeLogin(ctx, resolver.HandleLogin); err != nil && ctx.Err() == nil {
			log.Errorw("login_subscribe_failed", "err", err)
		}
	}()
	go func() {
		if err := brk.Consume(ctx, broker.QueueMessage, "im-message", cfg.NodeID, svc.Handle); err != nil && ctx.Err() == nil {
			log.Errorw("message_consume_failed", "err", err)
		}
	}()
	go func() {
		if err := brk.Consume(ctx, broker.NodeQueue(cfg.NodeID), "im-node", cfg.NodeID, deliver.HandleNodeEnvelope); err != nil && ctx.Err() == nil {
			log.Errorw("node_consume_failed", "err", err)
		}
	}()
	go func() {
		if err := observe.StartHTTP(cfg.MetricsAddr); err != nil {
			log.Errorw("metrics_listen_failed", "addr", cfg.MetricsAddr, "err", err)
		}
	}()

	srv := server.New(cfg, reg, sessions, brk, router.New(brk), hooks.AllowAll{})
	if err := srv.Start(); err != nil {
		log.Fatalw("server_start_failed", "err", err)
	}

	<-ctx.Done()
	log.Infow("shutting_down", "node", cfg.NodeID)
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutCtx)
	svc.Shutdown()
	_ = rdb.Close()
	_ = logger.L().Sync()
	os.Exit(0)
}
