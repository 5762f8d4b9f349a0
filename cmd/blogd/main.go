// blogd is a sample host for the dynconf subsystem: a blog service
// shell that keeps its business configuration synchronized from a remote
// configuration backend and exposes the actuator admin surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/skekre98/dynconf"
	"github.com/skekre98/dynconf/actuator"
	"github.com/skekre98/dynconf/logging"
	"github.com/skekre98/dynconf/remote"
)

func main() {
	configPath := pflag.String("config", "configs/application.yml", "bootstrap configuration file")
	addr := pflag.String("addr", "", "listen address override")
	pflag.Parse()

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, addrOverride string) error {
	boot, err := loadBootstrap(configPath)
	if err != nil {
		return err
	}
	if addrOverride != "" {
		boot.Server.Addr = addrOverride
	}

	leveled := logging.NewWithLevel(logging.ParseLevel(boot.LogLevel))
	logger := leveled.Logger.With(
		"app", boot.App.Name,
		"version", boot.App.Version,
	)

	client, cleanup, err := buildClient(boot)
	if err != nil {
		return err
	}
	defer cleanup()

	poll, err := boot.pollInterval()
	if err != nil {
		return fmt.Errorf("bad pollInterval: %w", err)
	}

	mgr, err := dynconf.New[BlogConfig](client, blogRules(), dynconf.Options{
		Namespace:    boot.Remote.Namespace,
		DefaultGroup: boot.Remote.Group,
		PollInterval: poll,
		Logger:       logger,
		Registerer:   prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}

	// React to snapshot changes: the log level follows the remote.
	events := make(chan dynconf.Event, 8)
	mgr.Subscribe(events)
	go func() {
		for evt := range events {
			if cfg, ok := evt.New.(*BlogConfig); ok {
				leveled.SetLevel(cfg.LogLevel)
			}
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Stop(5 * time.Second)

	srv := &http.Server{
		Addr: boot.Server.Addr,
		Handler: actuator.Handler(mgr, logger, actuator.Options{
			Gatherer: prometheus.DefaultGatherer,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("admin server starting", "addr", boot.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server error", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func buildClient(boot Bootstrap) (remote.Client, func(), error) {
	switch boot.Remote.Backend {
	case "file":
		dir := boot.Remote.Dir
		if dir == "" {
			dir = "configs/remote"
		}
		return remote.NewFileClient(dir), func() {}, nil
	case "nats":
		nc, err := nats.Connect(boot.Remote.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to %s: %w", boot.Remote.URL, err)
		}
		client, err := remote.NewNATS(nc)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return client, nc.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown remote backend %q", boot.Remote.Backend)
	}
}
