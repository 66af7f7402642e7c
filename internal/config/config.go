// Package config loads, validates and stores regscan configuration.
//
// Configuration is resolved in layers, each overriding the previous one:
// built-in defaults, the global file ($REGSCAN_HOME/config.yaml), an optional
// project overlay (.regscan/config.yaml), environment variables (a .env file in the
// working directory is loaded first) and finally CLI flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rshade/regscan/internal/logging"
	"github.com/rshade/regscan/internal/register"
)

// Supported drivers and output formats.
const (
	DriverSimonvetter = "simonvetter"
	DriverGoburrow    = "goburrow"

	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
)

// Defaults applied by New.
const (
	defaultHost          = "127.0.0.1"
	defaultPort          = 502
	defaultUnitID        = 1
	defaultTimeout       = time.Second
	defaultRetryDelay    = 100 * time.Millisecond
	defaultBaudRate      = 9600
	defaultDataBits      = 8
	defaultStopBits      = 1
	defaultChunkSize     = 1000
	defaultMaxConcurrent = 4
	defaultMQTTTopic     = "regscan"
	defaultMQTTTimeout   = 5 * time.Second
	defaultCacheTTL      = 7 * 24 * time.Hour
	maxUnitID            = 247
	maxPort              = 65535
	maxQoS               = 2
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete regscan configuration.
type Config struct {
	SchemaVersion string           `yaml:"schema_version"`
	Connection    ConnectionConfig `yaml:"connection"`
	Scan          ScanConfig       `yaml:"scan"`
	Output        OutputConfig     `yaml:"output"`
	Logging       LoggingConfig    `yaml:"logging"`
	Metrics       MetricsConfig    `yaml:"metrics"`
	MQTT          MQTTConfig       `yaml:"mqtt"`
	Cache         CacheConfig      `yaml:"cache"`

	configPath string
}

// ConnectionConfig describes how to reach the device.
type ConnectionConfig struct {
	// Driver selects the Modbus library: simonvetter (default) or goburrow.
	Driver string `yaml:"driver"`

	// URL, when set, takes precedence over Host/Port, e.g. "rtu:///dev/ttyUSB0".
	URL  string `yaml:"url,omitempty"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Targets lists additional device URLs scanned with the same settings.
	Targets []string `yaml:"targets,omitempty"`

	UnitID     int           `yaml:"unit_id"`
	Timeout    time.Duration `yaml:"timeout"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Serial line settings, used by rtu:// URLs only.
	BaudRate uint   `yaml:"baud_rate"`
	DataBits uint   `yaml:"data_bits"`
	Parity   string `yaml:"parity"`
	StopBits uint   `yaml:"stop_bits"`
}

// ScanConfig describes which registers are scanned and how.
type ScanConfig struct {
	FunctionCodes        []int `yaml:"function_codes"`
	StartAddress         int   `yaml:"start_address"`
	EndAddress           int   `yaml:"end_address"`
	BatchSize            int   `yaml:"batch_size"`
	Adaptive             bool  `yaml:"adaptive"`
	ChunkSize            int   `yaml:"chunk_size"`
	AccessibleOnly       bool  `yaml:"accessible_only"`
	MaxConcurrentDevices int   `yaml:"max_concurrent_devices"`
}

// OutputConfig controls result rendering.
type OutputConfig struct {
	Format   string `yaml:"format"`
	File     string `yaml:"file,omitempty"`
	Progress bool   `yaml:"progress"`
}

// LoggingConfig controls diagnostics.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Textfile string `yaml:"textfile,omitempty"`
}

// MQTTConfig controls publication of scan results.
type MQTTConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Broker      string        `yaml:"broker,omitempty"`
	ClientID    string        `yaml:"client_id,omitempty"`
	Username    string        `yaml:"username,omitempty"`
	Password    string        `yaml:"password,omitempty"`
	TopicPrefix string        `yaml:"topic_prefix"`
	QoS         int           `yaml:"qos"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CacheConfig controls the per-device memory of learned batch sizes.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`

	// Directory defaults to cache/ under the config directory.
	Directory string        `yaml:"directory,omitempty"`
	TTL       time.Duration `yaml:"ttl"`
}

// CacheDir returns the configured cache directory or the default one.
func (cc CacheConfig) CacheDir() (string, error) {
	if cc.Directory != "" {
		return cc.Directory, nil
	}
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cache"), nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return &Config{
		SchemaVersion: SchemaVersion,
		Connection: ConnectionConfig{
			Driver:     DriverSimonvetter,
			Host:       defaultHost,
			Port:       defaultPort,
			UnitID:     defaultUnitID,
			Timeout:    defaultTimeout,
			Retries:    1,
			RetryDelay: defaultRetryDelay,
			BaudRate:   defaultBaudRate,
			DataBits:   defaultDataBits,
			Parity:     "N",
			StopBits:   defaultStopBits,
		},
		Scan: ScanConfig{
			FunctionCodes:        []int{int(register.FuncHoldingRegister)},
			StartAddress:         0,
			EndAddress:           999,
			BatchSize:            register.MaxReadCount,
			Adaptive:             true,
			ChunkSize:            defaultChunkSize,
			MaxConcurrentDevices: defaultMaxConcurrent,
		},
		Output: OutputConfig{
			Format:   FormatTable,
			Progress: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatConsole,
		},
		MQTT: MQTTConfig{
			TopicPrefix: defaultMQTTTopic,
			Timeout:     defaultMQTTTimeout,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     defaultCacheTTL,
		},
	}
}

// New returns the defaults merged with the global config file, when one exists.
// A file that cannot be parsed is ignored and the defaults are returned.
func New() *Config {
	cfg := Default()

	path, err := GetConfigPath()
	if err != nil {
		return cfg
	}
	cfg.configPath = path

	if _, statErr := os.Stat(path); statErr != nil {
		return cfg
	}
	if loadErr := cfg.loadFile(path); loadErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: ignoring config file %s: %v\n", path, loadErr)
		cfg = Default()
		cfg.configPath = path
	}
	return cfg
}

// Load reads the file at path on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.configPath = path
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err = yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// SetConfigPath sets where Save writes.
func (c *Config) SetConfigPath(path string) {
	c.configPath = path
}

// ConfigPath returns the file this config was loaded from or will be saved to.
func (c *Config) ConfigPath() string {
	return c.configPath
}

// Save writes the configuration as YAML, creating the parent directory.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.New("config path not set")
	}
	if err := os.MkdirAll(filepath.Dir(c.configPath), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err = os.WriteFile(c.configPath, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %s: %w", c.configPath, err)
	}
	return nil
}

// DeviceURLs returns the device URLs to scan: the primary connection first, then any
// additional targets.
func (c *Config) DeviceURLs() []string {
	urls := []string{c.Connection.Address()}
	for _, t := range c.Connection.Targets {
		if t != "" && t != urls[0] {
			urls = append(urls, t)
		}
	}
	return urls
}

// Address returns the device URL, building tcp://host:port when URL is unset.
func (cc ConnectionConfig) Address() string {
	if cc.URL != "" {
		return cc.URL
	}
	return "tcp://" + net.JoinHostPort(cc.Host, strconv.Itoa(cc.Port))
}

// FunctionCodeList returns the configured function codes as typed values.
func (sc ScanConfig) FunctionCodeList() []register.FunctionCode {
	codes := make([]register.FunctionCode, 0, len(sc.FunctionCodes))
	for _, fc := range sc.FunctionCodes {
		codes = append(codes, register.FunctionCode(fc))
	}
	return codes
}

// Validate checks every field and returns all problems joined, wrapping ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if err := CheckSchemaVersion(c.SchemaVersion); err != nil {
		errs = append(errs, err)
	}

	conn := c.Connection
	switch conn.Driver {
	case DriverSimonvetter, DriverGoburrow:
	default:
		add("connection.driver must be %q or %q, got %q", DriverSimonvetter, DriverGoburrow, conn.Driver)
	}
	if conn.URL == "" {
		if conn.Host == "" {
			add("connection.host is required when connection.url is empty")
		}
		if conn.Port < 1 || conn.Port > maxPort {
			add("connection.port must be between 1 and %d, got %d", maxPort, conn.Port)
		}
	}
	if conn.UnitID < 0 || conn.UnitID > maxUnitID {
		add("connection.unit_id must be between 0 and %d, got %d", maxUnitID, conn.UnitID)
	}
	if conn.Timeout <= 0 {
		add("connection.timeout must be positive, got %s", conn.Timeout)
	}
	if conn.Retries < 0 {
		add("connection.retries must be >= 0, got %d", conn.Retries)
	}
	if conn.RetryDelay < 0 {
		add("connection.retry_delay must be >= 0, got %s", conn.RetryDelay)
	}
	switch conn.Parity {
	case "N", "E", "O", "":
	default:
		add("connection.parity must be N, E or O, got %q", conn.Parity)
	}

	scan := c.Scan
	if len(scan.FunctionCodes) == 0 {
		add("scan.function_codes must not be empty")
	}
	for _, fc := range scan.FunctionCodes {
		if !register.FunctionCode(fc).Valid() {
			add("scan.function_codes: %w: got %d", register.ErrInvalidFunctionCode, fc)
		}
	}
	if scan.StartAddress < 0 || scan.StartAddress > register.MaxAddress {
		add("scan.start_address must be between 0 and %d, got %d", register.MaxAddress, scan.StartAddress)
	}
	if scan.EndAddress < scan.StartAddress || scan.EndAddress > register.MaxAddress {
		add("scan.end_address must be between start_address and %d, got %d", register.MaxAddress, scan.EndAddress)
	}
	if scan.BatchSize < 1 || scan.BatchSize > register.MaxReadCount {
		add("scan.batch_size must be between 1 and %d, got %d", register.MaxReadCount, scan.BatchSize)
	}
	if scan.ChunkSize < 1 {
		add("scan.chunk_size must be >= 1, got %d", scan.ChunkSize)
	}
	if scan.MaxConcurrentDevices < 1 {
		add("scan.max_concurrent_devices must be >= 1, got %d", scan.MaxConcurrentDevices)
	}

	switch c.Output.Format {
	case FormatTable, FormatJSON, FormatCSV:
	default:
		add("output.format must be table, json or csv, got %q", c.Output.Format)
	}

	switch c.Logging.Format {
	case logging.FormatConsole, logging.FormatJSON, "":
	default:
		add("logging.format must be console or json, got %q", c.Logging.Format)
	}

	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		add("cache.ttl must be > 0 when the cache is enabled, got %s", c.Cache.TTL)
	}
	if c.Metrics.Enabled && c.Metrics.Textfile == "" {
		add("metrics.textfile is required when metrics are enabled")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			add("mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > maxQoS {
			add("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
		if c.MQTT.TopicPrefix == "" {
			add("mqtt.topic_prefix must not be empty")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
