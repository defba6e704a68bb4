package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	dapi "github.com/goliatone/go-dapi"
	"github.com/goliatone/go-dapi/runner"
)

const (
	MembershipStatic = "static"
	MembershipRedis  = "redis"
	MembershipRaft   = "raft"
)

// Config is the node configuration file.
type Config struct {
	Listen    string          `yaml:"listen"`
	Node      dapi.Node       `yaml:"node"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
}

type ClusterConfig struct {
	Membership string      `yaml:"membership"`
	Peers      []dapi.Node `yaml:"peers"`
	Redis      RedisConfig `yaml:"redis"`
	Heartbeat  string      `yaml:"heartbeat"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

type DispatchConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

type TransportConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    BackoffConfig `yaml:"backoff"`
}

type BackoffConfig struct {
	Base   time.Duration `yaml:"base"`
	Factor float64       `yaml:"factor"`
	Max    time.Duration `yaml:"max"`
}

// Strategy returns the retry strategy described by b.
func (b BackoffConfig) Strategy() runner.RetryStrategy {
	return runner.ExponentialBackoffStrategy{Base: b.Base, Factor: b.Factor, Max: b.Max}
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a single-node configuration. The node type is resolved
// when the config is parsed.
func Default() Config {
	return Config{
		Listen: ":55000",
		Node: dapi.Node{
			ID: "master-node",
		},
		Cluster: ClusterConfig{
			Membership: MembershipStatic,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "dapi",
				TTL:    15 * time.Second,
			},
			Heartbeat: "@every 5s",
		},
		Dispatch: DispatchConfig{
			DefaultTimeout: runner.DefaultTimeout,
			MaxConcurrency: 0,
		},
		Transport: TransportConfig{
			Timeout:    8 * time.Second,
			MaxRetries: 2,
			Backoff: BackoffConfig{
				Base:   100 * time.Millisecond,
				Factor: 2,
				Max:    2 * time.Second,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, dapi.NewError(dapi.ErrConfiguration,
			fmt.Sprintf("read config %s", path), err, map[string]any{"path": path})
	}
	return Parse(data)
}

// Parse decodes YAML (or JSON) over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, dapi.NewError(dapi.ErrConfiguration, "decode config", err, nil)
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *Config) normalize() {
	c.Cluster.Membership = strings.ToLower(strings.TrimSpace(c.Cluster.Membership))
	if c.Node.Type == "" {
		// a lone node with no peers is its own master
		c.Node.Type = dapi.NodeTypeWorker
		if len(c.Cluster.Peers) == 0 {
			c.Node.Type = dapi.NodeTypeMaster
		}
	}
	for i := range c.Cluster.Peers {
		if c.Cluster.Peers[i].Type == "" {
			c.Cluster.Peers[i].Type = dapi.NodeTypeWorker
		}
	}
}

// Validate reports every problem found in c as one CONFIGURATION_ERROR.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.Node.ID) == "" {
		add("node.id is required")
	}
	if !validNodeType(c.Node.Type) {
		add("node.type %q must be master or worker", c.Node.Type)
	}

	seen := map[string]struct{}{c.Node.ID: {}}
	for i, p := range c.Cluster.Peers {
		if strings.TrimSpace(p.ID) == "" {
			add("cluster.peers[%d].id is required", i)
			continue
		}
		if _, dup := seen[p.ID]; dup {
			add("cluster.peers[%d].id %q is duplicated", i, p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Address == "" {
			add("cluster.peers[%d].address is required", i)
		}
		if !validNodeType(p.Type) {
			add("cluster.peers[%d].type %q must be master or worker", i, p.Type)
		}
	}

	switch c.Cluster.Membership {
	case MembershipStatic:
	case MembershipRedis:
		if c.Cluster.Redis.Addr == "" {
			add("cluster.redis.addr is required for redis membership")
		}
		if c.Cluster.Redis.TTL <= 0 {
			add("cluster.redis.ttl must be positive")
		}
		if c.Node.Address == "" {
			add("node.address is required for redis membership")
		}
	case MembershipRaft:
		add("cluster.membership raft must be wired programmatically")
	default:
		add("cluster.membership %q must be one of static, redis", c.Cluster.Membership)
	}

	if c.Dispatch.DefaultTimeout < 0 {
		add("dispatch.default_timeout cannot be negative")
	}
	if c.Dispatch.MaxConcurrency < 0 {
		add("dispatch.max_concurrency cannot be negative")
	}
	dispatchTimeout := c.Dispatch.DefaultTimeout
	if dispatchTimeout == 0 {
		dispatchTimeout = runner.DefaultTimeout
	}
	if c.Transport.Timeout > 0 && c.Transport.Timeout >= dispatchTimeout {
		add("transport.timeout %s must be shorter than dispatch.default_timeout %s", c.Transport.Timeout, dispatchTimeout)
	}
	if c.Transport.MaxRetries < 0 {
		add("transport.max_retries cannot be negative")
	}
	if c.Transport.Backoff.Factor != 0 && c.Transport.Backoff.Factor < 1 {
		add("transport.backoff.factor must be at least 1")
	}
	if f := strings.ToLower(c.Log.Format); f != "" && f != "json" && f != "console" {
		add("log.format %q must be json or console", c.Log.Format)
	}

	if len(problems) == 0 {
		return nil
	}
	return dapi.NewError(dapi.ErrConfiguration,
		"invalid configuration: "+strings.Join(problems, "; "), nil,
		map[string]any{"problems": problems})
}

// IsConfigError reports whether err came from loading or validating a config.
func IsConfigError(err error) bool {
	var ge *errors.Error
	return errors.As(err, &ge) && ge.TextCode == dapi.ErrCodeConfiguration
}

// Nodes returns the local node followed by its peers.
func (c Config) Nodes() []dapi.Node {
	out := make([]dapi.Node, 0, len(c.Cluster.Peers)+1)
	out = append(out, c.Node)
	return append(out, c.Cluster.Peers...)
}

func validNodeType(t dapi.NodeType) bool {
	return t == dapi.NodeTypeMaster || t == dapi.NodeTypeWorker
}
