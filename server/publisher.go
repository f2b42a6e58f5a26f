package server

import (
	"context"
	"log/slog"

	"github.com/mbocsi/goxfs/proto"
)

// Publisher answers ServicePublisher.GetServices with the hosted services.
// Anything else is ignored.
type Publisher struct {
	VendorName string
	registry   *ServiceRegistry
	log        *slog.Logger
}

func NewPublisher(vendorName string, registry *ServiceRegistry, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{VendorName: vendorName, registry: registry, log: logger}
}

func (p *Publisher) HandleMessage(ctx context.Context, c Client, msg proto.Message) {
	if msg.Header.Type != proto.TypeCommand || msg.Header.Name != proto.GetServices {
		p.log.Debug("Publisher ignoring message", "type", msg.Header.Type, "name", msg.Header.Name)
		return
	}

	if err := c.Send(proto.NewAcknowledge(msg, "")); err != nil {
		p.log.Warn("Failed to acknowledge GetServices", "error", err)
		return
	}

	payload := proto.GetServicesPayload{VendorName: p.VendorName, Services: []proto.ServiceEntry{}}
	for _, uri := range p.registry.URIs() {
		payload.Services = append(payload.Services, proto.ServiceEntry{ServiceURI: uri})
	}

	completion, err := proto.NewCompletion(msg, proto.StatusSuccess, payload)
	if err != nil {
		p.log.Error("Failed to build GetServices completion", "error", err)
		return
	}
	if err := c.Send(completion); err != nil {
		p.log.Warn("Failed to send GetServices completion", "error", err)
		return
	}
	p.log.Info("Answered GetServices", "clientId", c.Meta().Id, "services", len(payload.Services))
}

func (p *Publisher) OnConnect(c Client) {
	p.log.Debug("Publisher client connected", "clientId", c.Meta().Id)
}

func (p *Publisher) OnDisconnect(c Client) {
	p.log.Debug("Publisher client disconnected", "clientId", c.Meta().Id)
}
