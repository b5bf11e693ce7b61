package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// OctoPrint describes how to reach the printer host.
type OctoPrint struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	Plugin         string `toml:"plugin"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Push selects and tunes the push notification source.
type Push struct {
	Source         string `toml:"source"`
	ZMQEndpoint    string `toml:"zmq_endpoint"`
	ReconnectDelay int    `toml:"reconnect_delay"`
	LogEvery       int    `toml:"log_every"`
	RawLog         bool   `toml:"raw_log"`
	RawLogDir      string `toml:"raw_log_dir"`
}

// Server configures the local renderer server.
type Server struct {
	Port      int    `toml:"port"`
	ImageBase string `toml:"image_base"`
}

// Settings selects where the plugin settings live.
type Settings struct {
	Store string `toml:"store"`
	File  string `toml:"file"`
}

type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Debug runs the panel against the built-in simulator.
type Debug struct {
	Simulate     bool    `toml:"simulate"`
	PushInterval int     `toml:"push_interval"`
	FailureRate  float64 `toml:"failure_rate"`
}

type Paths struct {
	StateDir string `toml:"state_dir"`
}

type Status struct {
	PollInterval int `toml:"poll_interval"`
}

// Config encapsulates all configuration values for the panel.
//
// Sections:
//   - OctoPrint: host URL, API key and plugin identifier
//   - Push: websocket or zmq push source and raw logging
//   - Server: local renderer server
//   - Settings: OctoPrint REST or config.yaml settings store
//   - Logging: level and format
//   - Debug: simulator
//   - Paths: state directory (lock file)
//   - Status: printer status polling
type Config struct {
	OctoPrint OctoPrint `toml:"octoprint"`
	Push      Push      `toml:"push"`
	Server    Server    `toml:"server"`
	Settings  Settings  `toml:"settings"`
	Logging   Logging   `toml:"logging"`
	Debug     Debug     `toml:"debug"`
	Paths     Paths     `toml:"paths"`
	Status    Status    `toml:"status"`
}

const (
	PushWebsocket = "websocket"
	PushZMQ       = "zmq"

	StoreOctoPrint = "octoprint"
	StoreFile      = "file"
)

var (
	ErrMissingURL    = errors.New("octoprint.url is required")
	ErrInvalidSource = errors.New("push.source must be websocket or zmq")
	ErrInvalidStore  = errors.New("settings.store must be octoprint or file")
)

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		OctoPrint: OctoPrint{
			URL:            "http://octopi.local",
			Plugin:         "bedready",
			RequestTimeout: 30,
		},
		Push: Push{
			Source:         PushWebsocket,
			ZMQEndpoint:    "tcp://localhost:5563",
			ReconnectDelay: 5,
			LogEvery:       100,
			RawLogDir:      "~/.local/state/bedready/rawlog",
		},
		Server: Server{
			Port:      8888,
			ImageBase: "images/",
		},
		Settings: Settings{
			Store: StoreOctoPrint,
			File:  "~/.octoprint/config.yaml",
		},
		Logging: Logging{
			Level: "info",
		},
		Debug: Debug{
			PushInterval: 20,
			FailureRate:  0.3,
		},
		Paths: Paths{
			StateDir: "~/.local/state/bedready",
		},
		Status: Status{
			PollInterval: 5,
		},
	}
}

// DefaultConfigPath returns the absolute path of the default configuration file.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/bedready/config.toml")
}

// Load locates, parses, and validates a configuration file. It returns the
// resolved path and whether a file existed there.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func (c *Config) normalize() error {
	if v := strings.TrimSpace(os.Getenv("BEDREADY_URL")); v != "" {
		c.OctoPrint.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("BEDREADY_API_KEY")); v != "" {
		c.OctoPrint.APIKey = v
	}

	c.OctoPrint.URL = strings.TrimRight(strings.TrimSpace(c.OctoPrint.URL), "/")
	c.OctoPrint.APIKey = strings.TrimSpace(c.OctoPrint.APIKey)
	c.OctoPrint.Plugin = strings.TrimSpace(c.OctoPrint.Plugin)
	if c.OctoPrint.Plugin == "" {
		c.OctoPrint.Plugin = "bedready"
	}
	if c.OctoPrint.RequestTimeout <= 0 {
		c.OctoPrint.RequestTimeout = 30
	}

	c.Push.Source = strings.ToLower(strings.TrimSpace(c.Push.Source))
	if c.Push.Source == "" {
		c.Push.Source = PushWebsocket
	}
	if c.Push.ReconnectDelay <= 0 {
		c.Push.ReconnectDelay = 5
	}
	if c.Push.LogEvery < 1 {
		c.Push.LogEvery = 1
	}

	if c.Server.ImageBase == "" {
		c.Server.ImageBase = "images/"
	}
	if !strings.HasSuffix(c.Server.ImageBase, "/") {
		c.Server.ImageBase += "/"
	}

	c.Settings.Store = strings.ToLower(strings.TrimSpace(c.Settings.Store))
	if c.Settings.Store == "" {
		c.Settings.Store = StoreOctoPrint
	}
	if c.Debug.PushInterval <= 0 {
		c.Debug.PushInterval = 20
	}
	if c.Status.PollInterval <= 0 {
		c.Status.PollInterval = 5
	}

	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return err
	}
	if c.Push.RawLogDir, err = expandPath(c.Push.RawLogDir); err != nil {
		return err
	}
	if c.Settings.File, err = expandPath(c.Settings.File); err != nil {
		return err
	}
	return nil
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if c.OctoPrint.URL == "" && !c.Debug.Simulate {
		return ErrMissingURL
	}
	switch c.Push.Source {
	case PushWebsocket, PushZMQ:
	default:
		return fmt.Errorf("%w (got %q)", ErrInvalidSource, c.Push.Source)
	}
	if c.Push.Source == PushZMQ && strings.TrimSpace(c.Push.ZMQEndpoint) == "" {
		return errors.New("push.zmq_endpoint is required for the zmq source")
	}
	switch c.Settings.Store {
	case StoreOctoPrint:
	case StoreFile:
		if c.Settings.File == "" {
			return errors.New("settings.file is required for the file store")
		}
	default:
		return fmt.Errorf("%w (got %q)", ErrInvalidStore, c.Settings.Store)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Debug.FailureRate < 0 || c.Debug.FailureRate > 1 {
		return fmt.Errorf("debug.failure_rate must be within [0,1]: %v", c.Debug.FailureRate)
	}
	return nil
}

// RequestTimeout returns the HTTP timeout for OctoPrint calls.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.OctoPrint.RequestTimeout) * time.Second
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Push.ReconnectDelay) * time.Second
}

func (c *Config) PushInterval() time.Duration {
	return time.Duration(c.Debug.PushInterval) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Status.PollInterval) * time.Second
}

// LockPath is the single-instance lock used by the serve command.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "bedready.lock")
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("bedready.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// CreateSample writes the sample configuration file to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders cfg as TOML.
func Encode(cfg *Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

// ExpandPath resolves "~" and makes pathValue absolute.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
