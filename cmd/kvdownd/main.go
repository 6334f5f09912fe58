package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/eigerco/kvdown/internal/config"
	"github.com/eigerco/kvdown/internal/dispatch"
	"github.com/eigerco/kvdown/internal/server"
	"github.com/eigerco/kvdown/pkg/asyncdb"
	"github.com/eigerco/kvdown/pkg/log"
)

// main serves a database over HTTP.
// go run ./cmd/kvdownd -config kvdown.yaml
func main() {
	configPath := flag.String("config", "kvdown.yaml", "Path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, err := log.ParseLogLevel(cfg.Logger.Level)
	if err != nil {
		return err
	}
	logType := log.ConsoleLogger
	if cfg.Logger.JSON {
		logType = log.JSONLogger
	}
	log.Init(log.Options{LogLevel: level, Type: logType})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	loop := dispatch.NewLoop()
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go loop.Run(loopCtx) //nolint:errcheck

	d := dispatch.NewDispatcher(loop, dispatch.Config{
		Workers: cfg.Dispatcher.Workers,
		Metrics: dispatch.NewMetrics(reg),
	}, log.Dispatch)

	database := asyncdb.New(cfg.DB.Location, d, log.Store)
	if err := wait(ctx, loop, func(done func(error)) { database.Open(cfg.DB.OpenOptions(), done) }); err != nil {
		return fmt.Errorf("open %s: %w", cfg.DB.Location, err)
	}
	log.Root.Info().Str("location", cfg.DB.Location).Str("engine", cfg.DB.Engine).Msg("database opened")

	srv := server.NewServer(loop, database, server.Options{
		Addr:            cfg.HTTP.Addr,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		BackupDir:       cfg.DB.BackupDir,
		Gatherer:        reg,
	}, log.Server)
	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	log.Root.Info().Msg("shutting down")

	var errs []error
	if err := srv.Stop(); err != nil {
		errs = append(errs, err)
	}

	closeCtx, cancelClose := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout+10*time.Second)
	defer cancelClose()
	if err := wait(closeCtx, loop, database.Close); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	d.Wait()
	loop.Stop()
	<-loop.Done()

	return errors.Join(errs...)
}

// wait runs start on the loop and blocks until its callback fires.
func wait(ctx context.Context, loop *dispatch.Loop, start func(done func(error))) error {
	ch := make(chan error, 1)
	if err := loop.Do(ctx, func() { start(func(err error) { ch <- err }) }); err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
