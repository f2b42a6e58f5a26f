package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// MDNSSource browses the local network for advertised publishers.
type MDNSSource struct {
	Service string        // Defaults to "_xfs4iot._tcp"
	Domain  string        // Defaults to "local"
	Timeout time.Duration // Browse window, defaults to 2s
	Logger  *slog.Logger
}

const defaultPublisherPath = "/xfs4iot/v1.0"

func (m *MDNSSource) Candidates(ctx context.Context) ([]string, error) {
	service := m.Service
	if service == "" {
		service = "_xfs4iot._tcp"
	}
	domain := m.Domain
	if domain == "" {
		domain = "local"
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	log := m.Logger
	if log == nil {
		log = slog.Default()
	}

	entriesCh := make(chan *mdns.ServiceEntry, 16)
	collected := make(chan []string, 1)
	go func() {
		var uris []string
		for entry := range entriesCh {
			uri, ok := publisherURI(entry)
			if !ok {
				continue
			}
			log.Info("Discovered publisher over mDNS", "service_name", entry.Name, "uri", uri)
			uris = append(uris, uri)
		}
		collected <- uris
	}()

	err := mdns.Query(&mdns.QueryParam{
		Service: service,
		Domain:  domain,
		Timeout: timeout,
		Entries: entriesCh,
	})
	close(entriesCh)
	uris := <-collected
	if err != nil {
		return uris, fmt.Errorf("mDNS query for %s: %w", service, err)
	}
	return uris, nil
}

func publisherURI(entry *mdns.ServiceEntry) (string, bool) {
	var address string
	if entry.AddrV4 != nil {
		address = entry.AddrV4.String()
	} else if entry.AddrV6 != nil {
		address = fmt.Sprintf("[%s]", entry.AddrV6.String())
	} else {
		return "", false
	}

	path := defaultPublisherPath
	for _, field := range entry.InfoFields {
		if v, ok := strings.CutPrefix(field, "path="); ok && v != "" {
			path = v
		}
	}
	return fmt.Sprintf("ws://%s:%d%s", address, entry.Port, path), true
}
