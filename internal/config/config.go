package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const appName = "wsrpc"

// SocketConfig holds WebSocket transport settings
type SocketConfig struct {
	ReadBufferSize      int      `json:"read_buffer_size" yaml:"read_buffer_size"`
	WriteBufferSize     int      `json:"write_buffer_size" yaml:"write_buffer_size"`
	MaxMessageSize      int64    `json:"max_message_size" yaml:"max_message_size"`
	PingIntervalSeconds int      `json:"ping_interval_seconds" yaml:"ping_interval_seconds"`
	PongTimeoutSeconds  int      `json:"pong_timeout_seconds" yaml:"pong_timeout_seconds"`
	WriteTimeoutSeconds int      `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
	SendQueueSize       int      `json:"send_queue_size" yaml:"send_queue_size"`
	AllowedOrigins      []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
}

// PingInterval returns the keepalive period
func (s SocketConfig) PingInterval() time.Duration {
	return time.Duration(s.PingIntervalSeconds) * time.Second
}

// PongTimeout returns how long a peer may stay silent
func (s SocketConfig) PongTimeout() time.Duration {
	return time.Duration(s.PongTimeoutSeconds) * time.Second
}

// WriteTimeout returns the deadline for a single frame write
func (s SocketConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// RouteConfig describes one upgrade route. A route selects requests by
// Path, by Header/HeaderValue, or both.
type RouteConfig struct {
	Name        string `json:"name" yaml:"name"`
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	Header      string `json:"header,omitempty" yaml:"header,omitempty"`
	HeaderValue string `json:"header_value,omitempty" yaml:"header_value,omitempty"`
	Service     string `json:"service" yaml:"service"` // echo, channel
}

// Config represents application configuration
type Config struct {
	Listen         string        `json:"listen" yaml:"listen"`
	LogLevel       string        `json:"log_level" yaml:"log_level"` // debug, info, warn, error, none
	LogPath        string        `json:"log_path" yaml:"log_path"`   // "-" for stderr
	MaxConnections int           `json:"max_connections" yaml:"max_connections"`
	MetricsPath    string        `json:"metrics_path" yaml:"metrics_path"`     // empty disables metrics
	OverlapPolicy  string        `json:"overlap_policy" yaml:"overlap_policy"` // all, first
	PidFile        string        `json:"pid_file,omitempty" yaml:"pid_file,omitempty"`
	Pprof          bool          `json:"pprof,omitempty" yaml:"pprof,omitempty"` // mount /debug/pprof
	Socket         SocketConfig  `json:"socket" yaml:"socket"`
	Routes         []RouteConfig `json:"routes" yaml:"routes"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", appName)
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", appName)
	}
}

// DefaultSocketConfig returns default transport settings
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		ReadBufferSize:      1024,
		WriteBufferSize:     1024,
		MaxMessageSize:      1 << 20,
		PingIntervalSeconds: 54,
		PongTimeoutSeconds:  60,
		WriteTimeoutSeconds: 10,
		SendQueueSize:       256,
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Listen:         "localhost:8936",
		LogLevel:       "info",
		LogPath:        "-",
		MaxConnections: 0,
		MetricsPath:    "/metrics",
		OverlapPolicy:  "all",
		Socket:         DefaultSocketConfig(),
		Routes: []RouteConfig{
			{Name: "jsonrpc", Path: "/jsonrpc", Service: "echo"},
		},
	}
}

// Load loads configuration from file. Files ending in .yaml or .yml are
// parsed as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	// Start with default config
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return default config if file doesn't exist
			return config, nil
		}
		return nil, err
	}

	// A file that lists routes replaces the default route list
	config.Routes = nil

	// Unmarshal into default config (overrides only provided fields)
	if isYAML(path) {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return config, nil
}

// applyDefaults ensures critical fields have defaults if still empty
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogPath == "" {
		c.LogPath = def.LogPath
	}
	if c.OverlapPolicy == "" {
		c.OverlapPolicy = def.OverlapPolicy
	}
	if len(c.Routes) == 0 {
		c.Routes = def.Routes
	}

	sock := DefaultSocketConfig()
	if c.Socket.ReadBufferSize <= 0 {
		c.Socket.ReadBufferSize = sock.ReadBufferSize
	}
	if c.Socket.WriteBufferSize <= 0 {
		c.Socket.WriteBufferSize = sock.WriteBufferSize
	}
	if c.Socket.MaxMessageSize <= 0 {
		c.Socket.MaxMessageSize = sock.MaxMessageSize
	}
	if c.Socket.PingIntervalSeconds <= 0 {
		c.Socket.PingIntervalSeconds = sock.PingIntervalSeconds
	}
	if c.Socket.PongTimeoutSeconds <= 0 {
		c.Socket.PongTimeoutSeconds = sock.PongTimeoutSeconds
	}
	if c.Socket.WriteTimeoutSeconds <= 0 {
		c.Socket.WriteTimeoutSeconds = sock.WriteTimeoutSeconds
	}
	if c.Socket.SendQueueSize <= 0 {
		c.Socket.SendQueueSize = sock.SendQueueSize
	}
}

// Validate checks the route table
func (c *Config) Validate() error {
	names := make(map[string]bool, len(c.Routes))
	for i, route := range c.Routes {
		if route.Name == "" {
			return fmt.Errorf("route %d has no name", i)
		}
		if names[route.Name] {
			return fmt.Errorf("duplicate route name %q", route.Name)
		}
		names[route.Name] = true

		if route.Path == "" && route.Header == "" {
			return fmt.Errorf("route %q needs a path or a header", route.Name)
		}
		if route.Path != "" && !strings.HasPrefix(route.Path, "/") {
			return fmt.Errorf("route %q path must start with '/'", route.Name)
		}
		if route.Service == "" {
			return fmt.Errorf("route %q has no service", route.Name)
		}
	}

	switch c.OverlapPolicy {
	case "all", "first":
	default:
		return fmt.Errorf("unknown overlap policy %q", c.OverlapPolicy)
	}

	if c.MetricsPath != "" && !strings.HasPrefix(c.MetricsPath, "/") {
		return fmt.Errorf("metrics path must start with '/'")
	}
	return nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
