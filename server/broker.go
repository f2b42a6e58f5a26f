package server

import (
	"log/slog"
	"sync"

	"github.com/mbocsi/goxfs/proto"
)

// Broker fans unsolicited events out to every connection of a service.
type Broker struct {
	mu   sync.RWMutex
	subs map[Client]struct{}
	log  *slog.Logger
}

func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{subs: make(map[Client]struct{}), log: logger}
}

func (b *Broker) Subscribe(client Client) {
	b.log.Debug("Subscribing", "clientId", client.Meta().Id)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[client] = struct{}{}
}

func (b *Broker) Unsubscribe(client Client) {
	b.log.Debug("Unsubscribing", "clientId", client.Meta().Id)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[client]; !ok {
		b.log.Warn("Did not find client to unsubscribe", "clientId", client.Meta().Id)
		return
	}
	delete(b.subs, client)
}

func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish sends msg to every subscriber and returns how many sends succeeded.
func (b *Broker) Publish(msg proto.Message) int {
	b.mu.RLock()
	clients := make([]Client, 0, len(b.subs))
	for c := range b.subs {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	sentCount := 0
	for _, client := range clients {
		if err := client.Send(msg); err != nil {
			b.log.Warn("Failed to publish to subscriber", "name", msg.Header.Name, "clientId", client.Meta().Id, "error", err)
			continue
		}
		sentCount++
	}
	b.log.Debug("Message published",
		"type", msg.Header.Type,
		"name", msg.Header.Name,
		"subscribers", sentCount,
		"size", len(msg.Payload),
	)
	return sentCount
}
