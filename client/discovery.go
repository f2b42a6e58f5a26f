package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mbocsi/goxfs/proto"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTemplate           = "ws://%s:%d/xfs4iot/v1.0"
	DefaultGetServicesTimeout = 60 * time.Second
)

// DefaultPorts is the ordered list of ports a publisher may listen on.
var DefaultPorts = []int{80, 443, 5846, 5847, 5848, 5849, 5850, 5851, 5852, 5853, 5854, 5855, 5856}

// CandidateSource yields extra publisher URIs, e.g. from mDNS.
type CandidateSource interface {
	Candidates(ctx context.Context) ([]string, error)
}

type DiscoveryConfig struct {
	Host               string
	Ports              []int
	Template           string // fmt template taking host and port
	Sources            []CandidateSource
	GetServicesTimeout time.Duration
	Concurrency        int // Max parallel dials and bootstraps
	Session            Options
	Interfaces         *InterfaceRegistry
	Registry           *ServiceRegistry
	OnSession          func(*DeviceSession) // Called for each device session before it connects
	Logger             *slog.Logger
}

// Discovery finds publishers, asks them for their services and bootstraps a
// session per advertised service into the registry.
type Discovery struct {
	cfg DiscoveryConfig
	log *slog.Logger
}

func NewDiscovery(cfg DiscoveryConfig) *Discovery {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if len(cfg.Ports) == 0 {
		cfg.Ports = DefaultPorts
	}
	if cfg.Template == "" {
		cfg.Template = DefaultTemplate
	}
	if cfg.GetServicesTimeout <= 0 {
		cfg.GetServicesTimeout = DefaultGetServicesTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Interfaces == nil {
		cfg.Interfaces = DefaultInterfaces()
	}
	if cfg.Registry == nil {
		cfg.Registry = NewServiceRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = cfg.Logger
	}
	return &Discovery{cfg: cfg, log: cfg.Logger.With("component", "discovery")}
}

func (d *Discovery) Registry() *ServiceRegistry {
	return d.cfg.Registry
}

// Candidates lists publisher URIs in port order followed by source results,
// without duplicates.
func (d *Discovery) Candidates(ctx context.Context) []string {
	var uris []string
	for _, port := range d.cfg.Ports {
		uris = append(uris, fmt.Sprintf(d.cfg.Template, d.cfg.Host, port))
	}
	for _, src := range d.cfg.Sources {
		found, err := src.Candidates(ctx)
		if err != nil {
			d.log.Warn("Candidate source failed", "error", err)
			continue
		}
		uris = append(uris, found...)
	}

	seen := make(map[string]struct{}, len(uris))
	out := uris[:0]
	for _, uri := range uris {
		if _, dup := seen[uri]; dup {
			continue
		}
		seen[uri] = struct{}{}
		out = append(out, uri)
	}
	return out
}

// ScanPublishers connects to every candidate. Refused endpoints are skipped;
// none accepting is ErrNoServicesFound.
func (d *Discovery) ScanPublishers(ctx context.Context) ([]*DeviceSession, error) {
	candidates := d.Candidates(ctx)
	sessions := make([]*DeviceSession, len(candidates))

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for i, uri := range candidates {
		g.Go(func() error {
			s := NewDeviceSession(uri, d.cfg.Session)
			if err := s.Start(ctx); err != nil {
				d.log.Debug("Publisher candidate unreachable", "uri", uri, "error", err)
				return nil
			}
			d.log.Info("Publisher connected", "uri", uri)
			sessions[i] = s
			return nil
		})
	}
	g.Wait()

	publishers := slices.DeleteFunc(sessions, func(s *DeviceSession) bool { return s == nil })
	if len(publishers) == 0 {
		return nil, proto.Errorf(proto.KindNoServicesFound, nil, "no publisher accepted a connection on %s (%d candidates)", d.cfg.Host, len(candidates))
	}
	return publishers, nil
}

// GetServices runs ServicePublisher.GetServices on one publisher. Services
// streamed as Events are collected as they arrive; the Completion payload is
// only used when no Event arrived.
func (d *Discovery) GetServices(ctx context.Context, publisher *DeviceSession) ([]string, error) {
	var uris []string
	events := 0

	_, completion, err := publisher.Stream(ctx, proto.GetServices, nil, d.cfg.GetServicesTimeout, func(msg proto.Message) error {
		if msg.Header.Type != proto.TypeEvent {
			return proto.Errorf(proto.KindWrongCommandType, nil, "%s: unexpected %s message", proto.GetServices, msg.Header.Type)
		}
		events++
		found := serviceURIs(msg)
		d.log.Debug("Services event", "publisher", publisher.URI, "services", len(found))
		uris = append(uris, found...)
		return nil
	})
	if err != nil {
		return uris, fmt.Errorf("get services from %s: %w", publisher.URI, err)
	}
	if !proto.IsSuccess(completion.Header.Status) {
		return uris, fmt.Errorf("get services from %s: %w", publisher.URI, &CompletionError{
			Name:        proto.GetServices,
			Status:      completion.Header.Status,
			Description: completion.Header.ErrorDescription,
		})
	}
	if events == 0 {
		uris = serviceURIs(completion)
	}
	return uris, nil
}

func serviceURIs(msg proto.Message) []string {
	services, ok := proto.GetPayloadValue[[]proto.ServiceEntry](msg, "services")
	if !ok {
		return nil
	}
	uris := make([]string, 0, len(services))
	for _, s := range services {
		if s.ServiceURI != "" {
			uris = append(uris, s.ServiceURI)
		}
	}
	return uris
}

// Discover scans for publishers and collects the services they advertise.
// A failing publisher does not affect the others.
func (d *Discovery) Discover(ctx context.Context) ([]string, error) {
	publishers, err := d.ScanPublishers(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, p := range publishers {
			p.Close()
		}
	}()

	results := make([][]string, len(publishers))
	errs := make([]error, len(publishers))
	var g errgroup.Group
	for i, p := range publishers {
		g.Go(func() error {
			results[i], errs[i] = d.GetServices(ctx, p)
			if errs[i] != nil {
				d.log.Warn("Publisher failed", "uri", p.URI, "error", errs[i])
			}
			return nil
		})
	}
	g.Wait()

	var uris []string
	seen := make(map[string]struct{})
	for _, found := range results {
		for _, uri := range found {
			if _, dup := seen[uri]; dup {
				continue
			}
			seen[uri] = struct{}{}
			uris = append(uris, uri)
		}
	}
	if len(uris) == 0 {
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}
	}
	d.log.Info("Discovery finished", "publishers", len(publishers), "services", len(uris))
	return uris, nil
}

type BootstrapResult struct {
	URI   string
	Entry *ServiceEntry
	Err   error
}

// Bootstrap opens a session per URI, fetches Status and Capabilities and
// registers it. Each URI succeeds or fails on its own.
func (d *Discovery) Bootstrap(ctx context.Context, uris []string) []BootstrapResult {
	results := make([]BootstrapResult, len(uris))

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for i, uri := range uris {
		g.Go(func() error {
			entry, err := d.bootstrap(ctx, uri)
			results[i] = BootstrapResult{URI: uri, Entry: entry, Err: err}
			if err != nil {
				d.log.Warn("Bootstrap failed", "uri", uri, "error", err)
			}
			return nil
		})
	}
	g.Wait()
	return results
}

func (d *Discovery) bootstrap(ctx context.Context, uri string) (*ServiceEntry, error) {
	if entry, ok := d.cfg.Registry.Get(uri); ok {
		if !entry.Session.Connected() {
			d.log.Warn("Known service is disconnected; remove it to reconnect", "uri", uri, "id", entry.ID)
		}
		return entry, nil
	}

	s := NewDeviceSession(uri, d.cfg.Session)
	if d.cfg.OnSession != nil {
		d.cfg.OnSession(s)
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	status, err := s.RefreshStatus(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("status: %w", err)
	}
	if _, err := s.RefreshCapabilities(ctx); err != nil {
		d.log.Warn("Capabilities unavailable", "uri", uri, "error", err)
	}

	ifaces := d.cfg.Interfaces.Build(s, status.Interfaces)
	entry, added := d.cfg.Registry.Add(s, ifaces)
	if !added {
		s.Close()
		return entry, nil
	}
	d.log.Info("Device service ready", "uri", uri, "id", entry.ID, "device", status.Device, "interfaces", status.Interfaces)
	return entry, nil
}

// Run discovers services and bootstraps them.
func (d *Discovery) Run(ctx context.Context) ([]BootstrapResult, error) {
	uris, err := d.Discover(ctx)
	if err != nil {
		return nil, err
	}
	return d.Bootstrap(ctx, uris), nil
}

// Watch reruns discovery every interval until ctx is done. Failed rounds are
// logged and retried on the next tick.
func (d *Discovery) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	round := func() {
		if _, err := d.Run(ctx); err != nil {
			d.log.Warn("Discovery round failed", "error", err)
		}
	}

	round()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			round()
		}
	}
}
