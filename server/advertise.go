package server

import (
	"fmt"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service type under which publishers are announced.
const ServiceType = "_xfs4iot._tcp"

type Advertiser struct {
	server *mdns.Server
}

func NewAdvertiser(instance string, port int, txt []string) (*Advertiser, error) {
	if instance == "" {
		instance = "xfs4iot"
	}
	svc, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, nil, txt)
	if err != nil {
		return nil, fmt.Errorf("mdns service: %w", err)
	}
	srv, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("mdns server: %w", err)
	}
	return &Advertiser{server: srv}, nil
}

func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}
