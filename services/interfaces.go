package services

import (
	"context"
)

// DeviceService handles the discovered device services
type DeviceService interface {
	ListServices() ([]ServiceInfo, error)
	GetService(id string) (*ServiceInfo, error)

	// Sends Common.Status and Common.Capabilities again
	RefreshService(ctx context.Context, id string) (*ServiceInfo, error)

	// Closes the session and forgets the service until the next discovery
	RemoveService(id string) error
}

// CommandService runs commands on device services
type CommandService interface {
	Execute(ctx context.Context, id string, req CommandRequest) (*CommandResult, error)
	Cancel(ctx context.Context, id string, requestIDs ...int) error
}

// DiscoveryService triggers discovery rounds
type DiscoveryService interface {
	Rescan(ctx context.Context) (*DiscoveryResult, error)
}

// ServiceContainer holds all service implementations
type ServiceContainer struct {
	Device    DeviceService
	Command   CommandService
	Discovery DiscoveryService
}
