package web

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/mbocsi/goxfs/services"
)

type mockDeviceService struct{ mock.Mock }

func (m *mockDeviceService) ListServices() ([]services.ServiceInfo, error) {
	args := m.Called()
	return args.Get(0).([]services.ServiceInfo), args.Error(1)
}

func (m *mockDeviceService) GetService(id string) (*services.ServiceInfo, error) {
	args := m.Called(id)
	info, _ := args.Get(0).(*services.ServiceInfo)
	return info, args.Error(1)
}

func (m *mockDeviceService) RefreshService(ctx context.Context, id string) (*services.ServiceInfo, error) {
	args := m.Called(ctx, id)
	info, _ := args.Get(0).(*services.ServiceInfo)
	return info, args.Error(1)
}

func (m *mockDeviceService) RemoveService(id string) error {
	return m.Called(id).Error(0)
}

type mockCommandService struct{ mock.Mock }

func (m *mockCommandService) Execute(ctx context.Context, id string, req services.CommandRequest) (*services.CommandResult, error) {
	args := m.Called(ctx, id, req)
	res, _ := args.Get(0).(*services.CommandResult)
	return res, args.Error(1)
}

func (m *mockCommandService) Cancel(ctx context.Context, id string, requestIDs ...int) error {
	return m.Called(ctx, id, requestIDs).Error(0)
}

type mockDiscoveryService struct{ mock.Mock }

func (m *mockDiscoveryService) Rescan(ctx context.Context) (*services.DiscoveryResult, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*services.DiscoveryResult)
	return res, args.Error(1)
}
