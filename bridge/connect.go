package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	NATSURL       string        `yaml:"nats_url"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisDB       int           `yaml:"redis_db"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	StatusTTL     time.Duration `yaml:"status_ttl"`
}

func (c Config) Enabled() bool {
	return c.NATSURL != "" || c.RedisAddr != ""
}

// Connect dials the configured NATS server and Redis instance. Either may be
// left empty to disable that sink.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := Options{SubjectPrefix: cfg.SubjectPrefix, StatusTTL: cfg.StatusTTL, Logger: logger}
	var closers []func()

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("Connected to Redis", "addr", cfg.RedisAddr)
		opts.Cache = rdb
		closers = append(closers, func() { rdb.Close() })
	}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("goxfs controller"))
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, fmt.Errorf("connect nats %s: %w", cfg.NATSURL, err)
		}
		logger.Info("Connected to NATS", "url", cfg.NATSURL)
		opts.Publisher = nc
		closers = append(closers, nc.Close)
	}

	b := New(opts)
	b.closers = closers
	return b, nil
}
