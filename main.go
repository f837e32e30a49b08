package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/icodeforyou/netztransparenz-go/config"
	"github.com/icodeforyou/netztransparenz-go/database"
	"github.com/icodeforyou/netztransparenz-go/logging"
	"github.com/icodeforyou/netztransparenz-go/metrics"
	"github.com/icodeforyou/netztransparenz-go/netztransparenz"
	"github.com/icodeforyou/netztransparenz-go/publish"
	"github.com/icodeforyou/netztransparenz-go/task"
	"github.com/icodeforyou/netztransparenz-go/www"
)

var Version = "?.?.?"

func main() {
	defer func() {
		if err := recover(); err != nil {
			exitWithError(slog.Default(), fmt.Errorf("application panicked: %v", err))
		} else {
			slog.Default().Info("application is shutting down...")
		}
	}()

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cnfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consoleHandler := logging.Console(os.Stdout, cnfg.Logging.GetConsoleLevel())
	slog.New(consoleHandler).Debug("netztransparenz is starting...", slog.String("version", Version))

	db, err := database.New(ctx, cnfg.Database.Path)
	if err != nil {
		panic(fmt.Sprintf("failed to connect to database: %v", err))
	}
	defer db.Close()

	handlers := []slog.Handler{
		consoleHandler,
		logging.NewSQLiteHandler(db, cnfg.Logging.GetDbLevel(), cnfg.Logging.GetDbAttrsFormat()),
	}
	if fileOpts, ok := cnfg.Logging.GetFile(); ok {
		fileHandler, closer := logging.File(fileOpts)
		defer closer.Close()
		handlers = append(handlers, fileHandler)
	}
	logger := slog.New(logging.NewMultiHandler(handlers...))
	slog.SetDefault(logger)

	// Now we can use the logger to log database operations into the database itself
	db.SetLogger(logger.With("module", "database"))

	registry, err := cnfg.Netztransparenz.Registry()
	if err != nil {
		panic(err.Error())
	}

	m := metrics.New()
	client, err := netztransparenz.New(cnfg.Netztransparenz.ClientConfig("netztransparenz-go/"+Version),
		netztransparenz.WithRegistry(registry),
		netztransparenz.WithMetrics(m),
		netztransparenz.WithLogger(logger))
	if err != nil {
		panic(fmt.Sprintf("failed to create client: %v", err))
	}
	logger.Info("client ready",
		slog.Int("endpoints", registry.Len()),
		slog.Duration("max_span", client.MaxSpan()))

	deps := task.HarvestDeps{Client: client, Store: db, Metrics: m}
	if cnfg.Mqtt.Enabled() && !isDevMode() {
		pub := publish.New(publish.NewClient(publish.Config{
			Host:     cnfg.Mqtt.Host,
			Port:     cnfg.Mqtt.Port,
			Username: cnfg.Mqtt.Username,
			Password: cnfg.Mqtt.Password,
			ClientID: cnfg.Mqtt.GetClientID(),
		}), cnfg.Mqtt.GetTopicPrefix())
		connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
		err := pub.Connect(connectCtx)
		connectCancel()
		if err != nil {
			panic(fmt.Sprintf("MQTT connection error: %v", err))
		}
		defer pub.Close()
		deps.Publisher = pub
	}

	var server *www.Server
	deps.OnHarvest = func(ev task.HarvestEvent) {
		server.Notify(ev)
	}
	tasks := task.NewTasks(db, deps, cnfg)

	server = www.NewServer(client, db, tasks, m, www.SysInfo{Version: Version, StartedAt: time.Now()}, cnfg.Api)

	if isDevMode() {
		logger.Info("dev mode, skipping task scheduling")
	} else {
		if err := tasks.Run(); err != nil {
			panic(err.Error())
		}
		defer tasks.Stop()
	}

	if *configPath != "" {
		err := config.Watch(*configPath, func(c *config.AppConfig) {
			if err := client.SetMaxSpan(c.Netztransparenz.GetMaxQuerySpan()); err != nil {
				logger.Error("applying max query span", slog.Any("error", err))
			}
			client.SetStrict(c.Netztransparenz.Strict)
		})
		if err != nil {
			logger.Warn("config watch disabled", slog.Any("error", err))
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("main context done")
		case sig := <-sigCh:
			logger.Info("received signal", slog.Any("signal", sig))
			cancel()
		}
	}()

	if err := server.Run(ctx); err != nil {
		exitWithError(logger, err)
	}
}

func isDevMode() bool {
	return strings.EqualFold(os.Getenv("APP_ENV"), "development")
}

func exitWithError(logger *slog.Logger, err error) {
	if err != nil {
		logger.Error("application shutting down with error", slog.Any("error", err))
	}
	if syncer, ok := logger.Handler().(interface{ Sync() error }); ok {
		if syncErr := syncer.Sync(); syncErr != nil {
			logger.Error("failed to flush logger", slog.Any("error", syncErr))
		}
	}

	time.Sleep(2 * time.Second)
	os.Exit(1)
}
