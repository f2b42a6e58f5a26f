// Command xfs-controller discovers device services and exposes them over a
// JSON HTTP API and, optionally, an MCP server on stdin/stdout.
//
// Usage:
//
//	xfs-controller [-config goxfs.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbocsi/goxfs/bridge"
	"github.com/mbocsi/goxfs/client"
	"github.com/mbocsi/goxfs/config"
	"github.com/mbocsi/goxfs/logging"
	"github.com/mbocsi/goxfs/mcp"
	"github.com/mbocsi/goxfs/services"
	"github.com/mbocsi/goxfs/web"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	flag.Parse()

	if err := config.LoadEnvFiles(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.Controller.MCP {
		// stdout carries the MCP protocol
		cfg.Log.Output = os.Stderr
	}
	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stop, cfg, logger); err != nil {
		slog.Error("Controller failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg config.Config, logger *slog.Logger) error {
	dcfg := client.DiscoveryConfig{
		Host:               cfg.Controller.Host,
		Ports:              cfg.Controller.Ports,
		Template:           cfg.Controller.Template,
		GetServicesTimeout: cfg.Controller.GetServicesTimeout,
		Concurrency:        cfg.Controller.Concurrency,
		Session: client.Options{
			AcknowledgeTimeout: cfg.Controller.AckTimeout,
			CommandTimeout:     cfg.Controller.CommandTimeout,
		},
		Logger: logger,
	}
	if cfg.Controller.MDNS {
		dcfg.Sources = append(dcfg.Sources, &client.MDNSSource{Logger: logger})
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Bridge.Enabled() {
		b, err := bridge.Connect(ctx, cfg.Bridge, logger)
		if err != nil {
			return err
		}
		defer b.Close()
		dcfg.OnSession = b.Attach
		g.Go(func() error {
			b.Run(gctx)
			return nil
		})
	}

	discovery := client.NewDiscovery(dcfg)
	defer discovery.Registry().Close()
	container := services.NewServiceContainer(discovery, cfg.Controller.CommandTimeout, logger)

	api := web.NewWebClient(container, logger)
	g.Go(func() error {
		return api.Start(cfg.Controller.HTTPAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return api.Shutdown(sctx)
	})

	g.Go(func() error {
		if cfg.Controller.RescanInterval > 0 {
			discovery.Watch(gctx, cfg.Controller.RescanInterval)
			return nil
		}
		if _, err := discovery.Run(gctx); err != nil {
			slog.Warn("Initial discovery failed", "error", err)
		}
		return nil
	})

	if cfg.Controller.MCP {
		m := mcp.NewMCPClient(container, mcp.NewMCPServer(version), logger)
		go func() {
			if err := m.Run(); err != nil {
				slog.Error("MCP server stopped", "error", err)
			}
			stop()
		}()
	}

	return g.Wait()
}
