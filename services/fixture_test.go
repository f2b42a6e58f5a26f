package services

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mbocsi/goxfs/client"
	"github.com/mbocsi/goxfs/logging"
	"github.com/mbocsi/goxfs/proto"
	"github.com/mbocsi/goxfs/server"
	"github.com/mbocsi/goxfs/simulator"
)

const advertisedBase = "ws://atm:5846"

type fixture struct {
	services  *ServiceContainer
	reader    *simulator.CardReader
	discovery *client.Discovery
}

// newFixture hosts a simulated card reader behind a publisher and wires a
// service container onto a discovery that can only reach it.
func newFixture(t *testing.T, cfg simulator.Config) *fixture {
	t.Helper()
	s := server.NewServer(server.Options{Host: "atm", Port: 5846, VendorName: "Acme", Logger: logging.Suppressed()})
	reader := simulator.NewCardReader(cfg, logging.Suppressed())
	s.Host(reader.Service())

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	dialer := func(ctx context.Context, addr string) (client.Transport, error) {
		if !strings.HasPrefix(addr, advertisedBase+"/") {
			return nil, proto.Errorf(proto.KindConnectionRefused, nil, "dial %s", addr)
		}
		return client.DialWebSocket(ctx, base+strings.TrimPrefix(addr, advertisedBase))
	}

	d := client.NewDiscovery(client.DiscoveryConfig{
		Host:    "atm",
		Ports:   []int{80, 5846},
		Session: client.Options{Dialer: dialer},
		Logger:  logging.Suppressed(),
	})
	t.Cleanup(d.Registry().Close)

	return &fixture{
		services:  NewServiceContainer(d, 5*time.Second, logging.Suppressed()),
		reader:    reader,
		discovery: d,
	}
}

// discovered runs a discovery round and returns the single service found
func (f *fixture) discovered(t *testing.T) ServiceInfo {
	t.Helper()
	result, err := f.services.Discovery.Rescan(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Services, 1)
	require.Empty(t, result.Failures)
	return result.Services[0]
}

func fastConfig() simulator.Config {
	cfg := simulator.DefaultConfig()
	cfg.InsertDelay = 10 * time.Millisecond
	cfg.RemoveDelay = 0
	return cfg
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var serviceErr ServiceError
	require.ErrorAs(t, err, &serviceErr)
	require.Equal(t, code, serviceErr.Code, "error: %v", err)
}
