// Package bridge forwards device session traffic to NATS and keeps the last
// Common.Status answer of every service in Redis.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mbocsi/goxfs/client"
	"github.com/mbocsi/goxfs/proto"
)

const (
	DefaultSubjectPrefix = "xfs4iot"
	DefaultStatusTTL     = 24 * time.Hour
	StatusKeyPrefix      = "xfs4iot:status:"
	queueSize            = 256
)

// Publisher is the part of *nats.Conn the bridge uses.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// StatusCache is the part of *redis.Client the bridge uses.
type StatusCache interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type Options struct {
	Publisher     Publisher   // Optional
	Cache         StatusCache // Optional
	SubjectPrefix string
	StatusTTL     time.Duration
	Logger        *slog.Logger
}

// Record is what gets published for every inbound message.
type Record struct {
	Service    string        `json:"service"`
	ReceivedAt time.Time     `json:"receivedAt"`
	Message    proto.Message `json:"message"`
}

type item struct {
	uri string
	at  time.Time
	msg proto.Message
}

// Bridge copies session messages to the configured sinks on the Run goroutine.
type Bridge struct {
	opts    Options
	queue   chan item
	log     *slog.Logger
	closers []func()

	mu      sync.Mutex
	dropped int
}

func New(opts Options) *Bridge {
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = DefaultSubjectPrefix
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = DefaultStatusTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bridge{
		opts:  opts,
		queue: make(chan item, queueSize),
		log:   opts.Logger.With("component", "bridge"),
	}
}

// Attach observes every message s receives. It is meant for
// client.DiscoveryConfig.OnSession.
func (b *Bridge) Attach(s *client.DeviceSession) {
	uri := s.URI
	s.OnMessage(func(msg proto.Message) {
		b.Handle(uri, msg)
	})
}

// Handle queues msg without blocking. Messages are dropped while the queue is full.
func (b *Bridge) Handle(uri string, msg proto.Message) {
	select {
	case b.queue <- item{uri: uri, at: time.Now(), msg: msg}:
	default:
		b.mu.Lock()
		b.dropped++
		n := b.dropped
		b.mu.Unlock()
		b.log.Warn("Bridge queue full, dropping message", "uri", uri, "name", msg.Header.Name, "dropped", n)
	}
}

func (b *Bridge) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Run forwards queued messages until ctx is done.
func (b *Bridge) Run(ctx context.Context) {
	b.log.Info("Bridge started", "nats", b.opts.Publisher != nil, "redis", b.opts.Cache != nil)
	for {
		select {
		case <-ctx.Done():
			b.log.Info("Bridge stopped")
			return
		case it := <-b.queue:
			b.forward(ctx, it)
		}
	}
}

func (b *Bridge) forward(ctx context.Context, it item) {
	service := ServiceName(it.uri)

	if b.opts.Publisher != nil {
		data, err := json.Marshal(Record{Service: it.uri, ReceivedAt: it.at, Message: it.msg})
		if err != nil {
			b.log.Error("Failed to encode bridge record", "uri", it.uri, "error", err)
			return
		}
		subject := Subject(b.opts.SubjectPrefix, service, it.msg.Header.Type)
		for _, subj := range []string{subject, b.opts.SubjectPrefix + ".all"} {
			if err := b.opts.Publisher.Publish(subj, data); err != nil {
				b.log.Warn("NATS publish failed", "subject", subj, "error", err)
			}
		}
	}

	if b.opts.Cache != nil && isStatusAnswer(it.msg) {
		key := StatusKeyPrefix + it.uri
		if err := b.opts.Cache.Set(ctx, key, []byte(it.msg.Payload), b.opts.StatusTTL).Err(); err != nil {
			b.log.Warn("Failed to cache status", "key", key, "error", err)
			return
		}
		b.log.Debug("Status cached", "key", key, "size", len(it.msg.Payload))
	}
}

func isStatusAnswer(msg proto.Message) bool {
	return msg.IsCompletion() && msg.Header.Name == proto.CommonStatus &&
		proto.IsSuccess(msg.Header.Status) && len(msg.Payload) > 0
}

// ServiceName is the last path segment of a service URI, e.g. "CardReader".
func ServiceName(uri string) string {
	p := uri
	if u, err := url.Parse(uri); err == nil {
		p = u.Path
	}
	name := path.Base(strings.TrimRight(p, "/"))
	if name == "." || name == "/" || name == "" {
		return "unknown"
	}
	return name
}

// Subject builds "<prefix>.<service>.<type>" with NATS token separators removed.
func Subject(prefix, service string, t proto.MessageType) string {
	clean := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	typ := string(t)
	if typ == "" {
		typ = "unknown"
	}
	return prefix + "." + clean.Replace(service) + "." + clean.Replace(typ)
}

// Close releases connections opened by Connect.
func (b *Bridge) Close() {
	for _, c := range b.closers {
		c()
	}
	b.closers = nil
}
