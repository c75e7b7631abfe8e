package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "github.com/softmech/journeyprobe/internal/config/probe"
	"github.com/softmech/journeyprobe/internal/correlation"
	"github.com/softmech/journeyprobe/internal/dispatch"
	"github.com/softmech/journeyprobe/internal/domain/probe"
	"github.com/softmech/journeyprobe/internal/domain/scenario"
	"github.com/softmech/journeyprobe/internal/ingress"
	"github.com/softmech/journeyprobe/internal/obs"
	"github.com/softmech/journeyprobe/internal/report"
	kafkaRepo "github.com/softmech/journeyprobe/internal/repository/kafka"
	pg "github.com/softmech/journeyprobe/internal/repository/postgres"
	"github.com/softmech/journeyprobe/internal/services/prober"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := flag.String("config", "../config/probe.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	l.Info("starting journeyprobe",
		zap.String("platform", cfg.Platform.BaseURL),
		zap.String("ingress_addr", cfg.Ingress.Addr),
		zap.String("metrics_addr", cfg.Sched.MetricsAddr),
	)

	// otel
	otelCloser, err := obs.SetupOTel(ctx, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// scenarios
	scenarios, err := scenario.LoadFile(cfg.ScenarioFile)
	if err != nil {
		l.Fatal("load scenarios", zap.Error(err))
	}
	l.Info("scenarios loaded", zap.Int("count", len(scenarios)))

	// archive db (optional)
	var (
		db      *pg.DB
		archive probe.ArchiveRepo
		health  func(context.Context) error
	)
	if cfg.DB.Enabled {
		db, err = pg.New(ctx, cfg.DB)
		if err != nil {
			l.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		archive = pg.NewArchiveRepo(db, pg.NewTransactor(db, l))
		health = func(hctx context.Context) error { return db.Pool.Ping(hctx) }
	}

	// alert sink (kafka when enabled, log otherwise)
	var alerts probe.AlertSink = &prober.LogSink{Log: l}
	if cfg.Kafka.Enabled {
		prod := kafkaRepo.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic).WithLogger(l)
		defer func() { _ = prod.Close() }()
		alerts = kafkaRepo.NewAlertEventsKafka(prod, l)
	}

	// metrics server
	ms := obs.BootstrapMetricsServer(cfg.Sched.MetricsAddr, health, l)

	// wiring
	clock := probe.SystemClock{}
	store := correlation.NewStore()
	rep := report.NewReporter(cfg.Report, clock)
	client := dispatch.NewClient(cfg.Platform)
	disp := dispatch.NewDispatcher(l, client, clock)
	machine := prober.NewMachine(l, disp, store, rep, alerts, archive, clock)
	runner := prober.NewRunner(l, &cfg.Sched, scenarios, machine, store, rep, alerts)

	// webhook ingress
	adapter := ingress.NewAdapter(l, store, rep, clock)
	ingressSrv := &http.Server{
		Addr:         cfg.Ingress.Addr,
		Handler:      obs.HTTPHandler(adapter, "webhook"),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	go func() {
		l.Info("ingress listening", zap.String("addr", cfg.Ingress.Addr))
		if err := ingressSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("ingress server error", zap.Error(err))
		}
	}()

	// run
	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(ctx) }()

	l.Info("journeyprobe started")

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("runner error", zap.Error(err))
		}
	}

	// graceful shutdown
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ingressSrv.Shutdown(shCtx)
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
