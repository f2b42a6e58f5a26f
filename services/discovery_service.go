package services

import (
	"context"

	"github.com/mbocsi/goxfs/client"
)

// DiscoveryServiceImpl implements DiscoveryService
type DiscoveryServiceImpl struct {
	discovery *client.Discovery
}

func NewDiscoveryService(discovery *client.Discovery) DiscoveryService {
	return &DiscoveryServiceImpl{discovery: discovery}
}

// Rescan runs one discovery round. Services that were already known are
// reported again; failing services are listed without failing the round.
func (ds *DiscoveryServiceImpl) Rescan(ctx context.Context) (*DiscoveryResult, error) {
	results, err := ds.discovery.Run(ctx)
	if err != nil {
		return nil, wrapError(err, "Discovery failed")
	}

	out := &DiscoveryResult{Services: []ServiceInfo{}}
	for _, r := range results {
		if r.Err != nil {
			out.Failures = append(out.Failures, DiscoveryFailure{URI: r.URI, Error: r.Err.Error()})
			continue
		}
		out.Services = append(out.Services, convertEntry(r.Entry))
	}
	return out, nil
}
