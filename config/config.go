// Package config loads the YAML configuration shared by the binaries.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mbocsi/goxfs/bridge"
	"github.com/mbocsi/goxfs/logging"
)

type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Device     DeviceConfig     `yaml:"device"`
	Log        logging.Config   `yaml:"log"`
	Bridge     bridge.Config    `yaml:"bridge"`
}

type ControllerConfig struct {
	Host               string        `yaml:"host"`
	Ports              []int         `yaml:"ports"`
	Template           string        `yaml:"template"`
	MDNS               bool          `yaml:"mdns"`
	GetServicesTimeout time.Duration `yaml:"get_services_timeout"`
	AckTimeout         time.Duration `yaml:"ack_timeout"`
	CommandTimeout     time.Duration `yaml:"command_timeout"`
	Concurrency        int           `yaml:"concurrency"`
	RescanInterval     time.Duration `yaml:"rescan_interval"` // Zero disables periodic rescans
	HTTPAddr           string        `yaml:"http_addr"`
	MCP                bool          `yaml:"mcp"`
}

type DeviceConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	TCPPort      int           `yaml:"tcp_port"` // Newline-framed TCP access to the card reader; zero disables
	VendorName   string        `yaml:"vendor_name"`
	Advertise    bool          `yaml:"advertise"`
	ModelName    string        `yaml:"model_name"`
	SerialNumber string        `yaml:"serial_number"`
	InsertDelay  time.Duration `yaml:"insert_delay"`
	RemoveDelay  time.Duration `yaml:"remove_delay"`
}

func Default() Config {
	return Config{
		Controller: ControllerConfig{
			Host:               "localhost",
			Ports:              []int{80, 443, 5846, 5847, 5848, 5849, 5850, 5851, 5852, 5853, 5854, 5855, 5856},
			Template:           "ws://%s:%d/xfs4iot/v1.0",
			GetServicesTimeout: 60 * time.Second,
			AckTimeout:         5 * time.Second,
			CommandTimeout:     30 * time.Second,
			Concurrency:        8,
			HTTPAddr:           ":8080",
		},
		Device: DeviceConfig{
			Host:         "localhost",
			Port:         5846,
			VendorName:   "goxfs",
			ModelName:    "SIM-CR-1",
			SerialNumber: "0000001",
			InsertDelay:  500 * time.Millisecond,
			RemoveDelay:  2 * time.Second,
		},
		Log: logging.Config{Level: "info", Format: "json"},
	}
}

// Load reads path over the defaults, applies XFS_* environment overrides and
// validates the result. An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return cfg, nil
}

// LoadEnvFiles loads .env style files into the process environment. Missing
// files are skipped and variables already set win.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("env load failed (%s): %w", p, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}
	integer := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("XFS_CONTROLLER_HOST", &cfg.Controller.Host)
	str("XFS_HTTP_ADDR", &cfg.Controller.HTTPAddr)
	str("XFS_DEVICE_HOST", &cfg.Device.Host)
	str("XFS_VENDOR_NAME", &cfg.Device.VendorName)
	str("XFS_LOG_LEVEL", &cfg.Log.Level)
	str("XFS_LOG_FORMAT", &cfg.Log.Format)
	str("XFS_NATS_URL", &cfg.Bridge.NATSURL)
	str("XFS_REDIS_ADDR", &cfg.Bridge.RedisAddr)

	if v, ok := os.LookupEnv("XFS_CONTROLLER_PORTS"); ok {
		ports, err := parsePorts(v)
		if err != nil {
			return fmt.Errorf("XFS_CONTROLLER_PORTS: %w", err)
		}
		cfg.Controller.Ports = ports
	}

	return errors.Join(
		boolean("XFS_CONTROLLER_MDNS", &cfg.Controller.MDNS),
		boolean("XFS_MCP", &cfg.Controller.MCP),
		boolean("XFS_DEVICE_ADVERTISE", &cfg.Device.Advertise),
		integer("XFS_DEVICE_PORT", &cfg.Device.Port),
		integer("XFS_DEVICE_TCP_PORT", &cfg.Device.TCPPort),
		integer("XFS_REDIS_DB", &cfg.Bridge.RedisDB),
		duration("XFS_COMMAND_TIMEOUT", &cfg.Controller.CommandTimeout),
		duration("XFS_RESCAN_INTERVAL", &cfg.Controller.RescanInterval),
	)
}

func parsePorts(raw string) ([]int, error) {
	var ports []int
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		port, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", field)
		}
		ports = append(ports, port)
	}
	return ports, nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Controller.Host) == "" {
		return fmt.Errorf("controller config missing host")
	}
	if len(c.Controller.Ports) == 0 {
		return fmt.Errorf("controller config needs at least one port")
	}
	for i, p := range c.Controller.Ports {
		if !validPort(p) {
			return fmt.Errorf("controller port[%d] out of range: %d", i, p)
		}
	}
	if !strings.Contains(c.Controller.Template, "%s") || !strings.Contains(c.Controller.Template, "%d") {
		return fmt.Errorf("controller template %q must contain %%s and %%d", c.Controller.Template)
	}
	if c.Controller.Concurrency < 0 {
		return fmt.Errorf("controller concurrency must not be negative")
	}
	if c.Controller.RescanInterval < 0 {
		return fmt.Errorf("controller rescan interval must not be negative")
	}
	if !validPort(c.Device.Port) {
		return fmt.Errorf("device port out of range: %d", c.Device.Port)
	}
	if c.Device.TCPPort != 0 && (!validPort(c.Device.TCPPort) || c.Device.TCPPort == c.Device.Port) {
		return fmt.Errorf("device tcp port invalid: %d", c.Device.TCPPort)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
