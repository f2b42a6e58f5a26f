package services

import (
	"log/slog"
	"time"

	"github.com/mbocsi/goxfs/client"
)

const DefaultCommandTimeout = 30 * time.Second

// NewServiceContainer wires every service onto one discovery and its registry
func NewServiceContainer(discovery *client.Discovery, commandTimeout time.Duration, logger *slog.Logger) *ServiceContainer {
	if commandTimeout <= 0 {
		commandTimeout = DefaultCommandTimeout
	}
	registry := discovery.Registry()

	return &ServiceContainer{
		Device:    NewDeviceService(registry),
		Command:   NewCommandService(registry, commandTimeout, logger),
		Discovery: NewDiscoveryService(discovery),
	}
}
