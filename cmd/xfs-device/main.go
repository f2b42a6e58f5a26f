// Command xfs-device hosts a service publisher and a simulated card reader.
//
// Usage:
//
//	xfs-device [-config goxfs.yaml]
//
// Sending SIGUSR1 inserts a card into the simulated reader.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mbocsi/goxfs/config"
	"github.com/mbocsi/goxfs/logging"
	"github.com/mbocsi/goxfs/server"
	"github.com/mbocsi/goxfs/simulator"
)

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
	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	srv := server.NewServer(server.Options{
		Host:       cfg.Device.Host,
		Port:       cfg.Device.Port,
		VendorName: cfg.Device.VendorName,
		Advertise:  cfg.Device.Advertise,
		Logger:     logger,
	})

	simCfg := simulator.DefaultConfig()
	simCfg.ModelName = cfg.Device.ModelName
	simCfg.SerialNumber = cfg.Device.SerialNumber
	simCfg.InsertDelay = cfg.Device.InsertDelay
	simCfg.RemoveDelay = cfg.Device.RemoveDelay
	reader := simulator.NewCardReader(simCfg, logger)
	uri := srv.Host(reader.Service())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	insert := make(chan os.Signal, 1)
	signal.Notify(insert, syscall.SIGUSR1)
	defer signal.Stop(insert)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-insert:
				slog.Info("Inserting card")
				reader.InsertCard()
			}
		}
	}()

	slog.Info("Device host ready", "publisher", srv.PublisherURI(), "service", uri)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if cfg.Device.TCPPort != 0 {
		tcp := server.NewTCPTransport(fmt.Sprintf(":%d", cfg.Device.TCPPort), reader.Service(), logger)
		tcp.SetName("CardReader TCP access")
		g.Go(tcp.Start)
		g.Go(func() error {
			<-gctx.Done()
			return tcp.Shutdown()
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("Error running device host", "error", err)
		os.Exit(1)
	}
}
