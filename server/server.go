package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"
)

// BasePath is the URL path of the publisher; device services live below it.
const BasePath = "/xfs4iot/v1.0"

type Options struct {
	Host       string           // Host name placed in advertised URIs
	Port       int              // Listen port
	VendorName string           // Reported by the publisher
	Registry   *ServiceRegistry // Optional (defaults to a new registry)
	Logger     *slog.Logger     // Optional (defaults to slog.Default())
	Advertise  bool             // Announce the publisher over mDNS
}

// Server hosts a publisher plus any number of device services on one port.
type Server struct {
	options    Options
	transport  *WSTransport
	publisher  *Publisher
	services   map[string]*DeviceService
	advertiser *Advertiser
	log        *slog.Logger
}

func NewServer(opts Options) *Server {
	if opts.Registry == nil {
		opts.Registry = NewServiceRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Host == "" {
		opts.Host = "localhost"
	}

	transport := NewWSTransport(fmt.Sprintf(":%d", opts.Port), opts.Logger)
	transport.SetName("XFS4IoT service host")
	transport.SetDescription("Publisher and device services")

	publisher := NewPublisher(opts.VendorName, opts.Registry, opts.Logger.With("endpoint", "publisher"))
	transport.Mount(BasePath, publisher)

	return &Server{
		options:   opts,
		transport: transport,
		publisher: publisher,
		services:  make(map[string]*DeviceService),
		log:       opts.Logger,
	}
}

// PublisherURI is the address discovery connects to.
func (s *Server) PublisherURI() string {
	return fmt.Sprintf("ws://%s:%d%s", s.options.Host, s.options.Port, BasePath)
}

// Host mounts svc below the publisher path and advertises it. It returns the service URI.
func (s *Server) Host(svc *DeviceService) string {
	path := BasePath + "/" + strings.Trim(svc.Name(), "/")
	uri := fmt.Sprintf("ws://%s:%d%s", s.options.Host, s.options.Port, path)
	s.transport.Mount(path, svc)
	s.options.Registry.Store(uri, svc)
	s.services[uri] = svc
	s.log.Info("Hosting device service", "service", svc.Name(), "uri", uri)
	return uri
}

func (s *Server) Registry() *ServiceRegistry {
	return s.options.Registry
}

func (s *Server) Transport() *WSTransport {
	return s.transport
}

// Handler exposes the transport for use with an externally managed listener.
func (s *Server) Handler() http.Handler {
	return s.transport
}

// Start serves until ctx is cancelled, then shuts the transport down.
func (s *Server) Start(ctx context.Context) error {
	if s.options.Advertise {
		adv, err := NewAdvertiser(s.options.VendorName, s.options.Port, []string{"path=" + BasePath})
		if err != nil {
			s.log.Warn("mDNS advertisement unavailable", "error", err)
		} else {
			s.advertiser = adv
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.transport.Start)
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("Shutting down service host")
		if s.advertiser != nil {
			if err := s.advertiser.Shutdown(); err != nil {
				s.log.Error("There was an error when shutting down mDNS advertiser", "error", err)
			}
		}
		if err := s.transport.Shutdown(); err != nil {
			s.log.Error("There was an error when shutting down transport", "error", err)
		}
		for _, svc := range s.services {
			svc.Wait()
		}
		return nil
	})
	return g.Wait()
}
