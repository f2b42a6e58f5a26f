package services

import (
	"context"

	"github.com/mbocsi/goxfs/client"
)

// DeviceServiceImpl implements DeviceService
type DeviceServiceImpl struct {
	registry *client.ServiceRegistry
}

// NewDeviceService creates a new device service
func NewDeviceService(registry *client.ServiceRegistry) DeviceService {
	return &DeviceServiceImpl{
		registry: registry,
	}
}

// ListServices returns all registered services ordered by URI
func (ds *DeviceServiceImpl) ListServices() ([]ServiceInfo, error) {
	entries := ds.registry.List()
	result := make([]ServiceInfo, 0, len(entries))

	for _, entry := range entries {
		result = append(result, convertEntry(entry))
	}

	return result, nil
}

// GetService returns a specific service by its short id
func (ds *DeviceServiceImpl) GetService(id string) (*ServiceInfo, error) {
	entry, exists := ds.registry.GetByID(id)
	if !exists {
		return nil, notFound(id)
	}

	info := convertEntry(entry)
	return &info, nil
}

func (ds *DeviceServiceImpl) RefreshService(ctx context.Context, id string) (*ServiceInfo, error) {
	entry, exists := ds.registry.GetByID(id)
	if !exists {
		return nil, notFound(id)
	}
	if !entry.Session.Connected() {
		return nil, ServiceError{
			Code:    ErrCodeUnavailable,
			Message: "Service is disconnected: " + id,
		}
	}

	if _, err := entry.Session.RefreshStatus(ctx); err != nil {
		return nil, wrapError(err, "Status refresh failed for "+id)
	}
	if _, err := entry.Session.RefreshCapabilities(ctx); err != nil {
		return nil, wrapError(err, "Capabilities refresh failed for "+id)
	}

	info := convertEntry(entry)
	return &info, nil
}

func (ds *DeviceServiceImpl) RemoveService(id string) error {
	entry, exists := ds.registry.GetByID(id)
	if !exists {
		return notFound(id)
	}
	ds.registry.Remove(entry.URI)
	return nil
}
