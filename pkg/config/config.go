package config

import (
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.etcd.io/etcd/client/pkg/v3/transport"

	"github.com/hostwatchd/hostwatchd/pkg/observability"
	"github.com/hostwatchd/hostwatchd/pkg/probe"
)

const (
	// DefaultEnvFile is loaded from the working directory when present.
	DefaultEnvFile = ".env"
	// EnvFileVariable overrides the dotenv file location.
	EnvFileVariable = "HEALTH_AGENT_ENV_FILE"

	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendEtcd   = "etcd"
)

// Config represents the runtime configuration of one agent invocation.
type Config struct {
	NodeName string `env:"HEALTH_AGENT_NODE_NAME"`
	LogLevel string `env:"HEALTH_AGENT_LOG_LEVEL" envDefault:"info"`

	Disk    DiskConfig
	Service ServiceConfig
	Notify  NotifyConfig
	State   StateConfig
	Metrics MetricsConfig
}

// DiskConfig selects the filesystem to watch.
type DiskConfig struct {
	Path        string `env:"HEALTH_AGENT_DISK_PATH" envDefault:"/"`
	ThresholdGB int    `env:"HEALTH_AGENT_DISK_THRESHOLD" envDefault:"10"`
}

// ServiceConfig selects the process to watch and how to restart it.
type ServiceConfig struct {
	Name           string        `env:"HEALTH_AGENT_SERVICE"`
	RestartCommand string        `env:"HEALTH_AGENT_RESTART_CMD"`
	RestartTimeout time.Duration `env:"HEALTH_AGENT_RESTART_TIMEOUT" envDefault:"5m"`
	RestartGrace   time.Duration `env:"HEALTH_AGENT_RESTART_GRACE" envDefault:"0s"`
}

// NotifyConfig configures the incoming webhook. An empty URL disables notifications.
type NotifyConfig struct {
	WebhookURL string        `env:"SLACK_WEBHOOK_URL"`
	Timeout    time.Duration `env:"HEALTH_AGENT_NOTIFY_TIMEOUT" envDefault:"5s"`
}

// StateConfig selects the alert ledger backend.
type StateConfig struct {
	Backend string `env:"HEALTH_AGENT_STATE_BACKEND" envDefault:"file"`
	Dir     string `env:"HEALTH_AGENT_STATE_DIR"`
	Etcd    EtcdConfig
}

// EtcdConfig configures the etcd ledger backend.
type EtcdConfig struct {
	Endpoints   []string      `env:"HEALTH_AGENT_ETCD_ENDPOINTS" envSeparator:","`
	Namespace   string        `env:"HEALTH_AGENT_ETCD_NAMESPACE"`
	Prefix      string        `env:"HEALTH_AGENT_ETCD_PREFIX" envDefault:"alerts"`
	DialTimeout time.Duration `env:"HEALTH_AGENT_ETCD_DIAL_TIMEOUT" envDefault:"5s"`
	TTL         time.Duration `env:"HEALTH_AGENT_ETCD_TTL" envDefault:"0s"`
	TLS         EtcdTLSConfig
}

// EtcdTLSConfig configures optional TLS settings for connecting to etcd.
type EtcdTLSConfig struct {
	Enabled  bool   `env:"HEALTH_AGENT_ETCD_TLS"`
	CAFile   string `env:"HEALTH_AGENT_ETCD_CA_FILE"`
	CertFile string `env:"HEALTH_AGENT_ETCD_CERT_FILE"`
	KeyFile  string `env:"HEALTH_AGENT_ETCD_KEY_FILE"`
	Insecure bool   `env:"HEALTH_AGENT_ETCD_INSECURE_SKIP_VERIFY"`
}

// MetricsConfig defines where the Prometheus textfile is written. Empty disables it.
type MetricsConfig struct {
	Textfile string `env:"HEALTH_AGENT_METRICS_TEXTFILE"`
}

// ValidationError aggregates multiple configuration validation failures.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	var other *ValidationError
	return errors.As(target, &other)
}

// LoadDotenv loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. An empty path resolves to
// $HEALTH_AGENT_ENV_FILE, then to .env; only an explicitly named file must exist.
func LoadDotenv(path string) error {
	explicit := true
	if path == "" {
		path = os.Getenv(EnvFileVariable)
	}
	if path == "" {
		path = DefaultEnvFile
		explicit = false
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// FromEnvironment builds a Config from the process environment. The result
// is not validated so flags can still override it.
func FromEnvironment() (*Config, error) {
	return parse(env.Options{})
}

// FromMap builds a Config from the given variables instead of the process environment.
func FromMap(vars map[string]string) (*Config, error) {
	if vars == nil {
		vars = map[string]string{}
	}
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	return &cfg, nil
}

// BindFlags registers command line flags seeded with the current values so
// that flags take precedence over the environment.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Disk.Path, "disk-path", c.Disk.Path, "filesystem path whose free space is checked")
	fs.IntVar(&c.Disk.ThresholdGB, "disk-threshold", c.Disk.ThresholdGB, "minimum free space in GB")
	fs.StringVar(&c.Service.Name, "service", c.Service.Name, "regular expression matched against process command lines")
	fs.StringVar(&c.Service.RestartCommand, "restart-cmd", c.Service.RestartCommand, "shell command run when the service is down")
	fs.DurationVar(&c.Service.RestartTimeout, "restart-timeout", c.Service.RestartTimeout, "maximum runtime of the restart command (0 disables the limit)")
	fs.DurationVar(&c.Service.RestartGrace, "restart-grace", c.Service.RestartGrace, "delay between a successful restart and the re-check")
	fs.DurationVar(&c.Notify.Timeout, "notify-timeout", c.Notify.Timeout, "webhook request timeout")
	fs.StringVar(&c.State.Dir, "state-dir", c.State.Dir, "directory holding alert markers (default: system temp dir)")
	fs.StringVar(&c.State.Backend, "state-backend", c.State.Backend, "alert ledger backend: file, sqlite or etcd")
	fs.StringVar(&c.Metrics.Textfile, "metrics-textfile", c.Metrics.Textfile, "write Prometheus metrics to this file after the run")
	fs.StringVar(&c.NodeName, "node-name", c.NodeName, "node name used in logs and etcd keys (default: hostname)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "minimum log level: info, warn or error")
}

// Finalize applies defaults and validates the configuration.
func (c *Config) Finalize() error {
	c.applyDefaults()
	return c.Validate()
}

func (c *Config) applyDefaults() {
	c.Disk.Path = strings.TrimSpace(c.Disk.Path)
	if c.Disk.Path == "" {
		c.Disk.Path = "/"
	}
	c.Service.Name = strings.TrimSpace(c.Service.Name)
	c.Service.RestartCommand = strings.TrimSpace(c.Service.RestartCommand)
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 5 * time.Second
	}
	c.Notify.WebhookURL = strings.TrimSpace(c.Notify.WebhookURL)
	c.State.Backend = strings.ToLower(strings.TrimSpace(c.State.Backend))
	if c.State.Backend == "" {
		c.State.Backend = BackendFile
	}
	if strings.TrimSpace(c.State.Etcd.Prefix) == "" {
		c.State.Etcd.Prefix = "alerts"
	}
	if c.State.Etcd.DialTimeout == 0 {
		c.State.Etcd.DialTimeout = 5 * time.Second
	}
	if strings.TrimSpace(c.NodeName) == "" {
		if host, err := os.Hostname(); err == nil {
			c.NodeName = host
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = string(observability.LevelInfo)
	}
}

// Validate checks for semantic correctness in the configuration.
func (c *Config) Validate() error {
	problems := make([]string, 0)

	if strings.TrimSpace(c.Disk.Path) == "" {
		problems = append(problems, "disk path is required")
	}
	if c.Disk.ThresholdGB < 0 {
		problems = append(problems, "disk threshold must be non-negative")
	}
	if c.Service.Name != "" {
		if _, err := probe.CompilePattern(c.Service.Name); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if c.Service.RestartTimeout < 0 {
		problems = append(problems, "restart timeout must be non-negative")
	}
	if c.Service.RestartGrace < 0 {
		problems = append(problems, "restart grace must be non-negative")
	}
	if c.Notify.Timeout <= 0 {
		problems = append(problems, "notify timeout must be greater than zero")
	}
	if c.Notify.WebhookURL != "" {
		if u, err := url.Parse(c.Notify.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, "SLACK_WEBHOOK_URL must be an http(s) URL")
		}
	}
	if _, err := observability.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}

	switch c.State.Backend {
	case BackendFile, BackendSQLite:
	case BackendEtcd:
		problems = append(problems, c.State.Etcd.validate()...)
		if strings.TrimSpace(c.NodeName) == "" {
			problems = append(problems, "node name is required for the etcd backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("state backend %q is not supported", c.State.Backend))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (e EtcdConfig) validate() []string {
	problems := make([]string, 0)
	if len(e.Endpoints) == 0 {
		problems = append(problems, "etcd endpoints must contain at least one endpoint")
	}
	if e.DialTimeout <= 0 {
		problems = append(problems, "etcd dial timeout must be greater than zero")
	}
	if e.TTL < 0 {
		problems = append(problems, "etcd TTL must be non-negative")
	}
	if e.TLS.Enabled {
		if strings.TrimSpace(e.TLS.CAFile) == "" {
			problems = append(problems, "etcd CA file is required when TLS is enabled")
		}
		if strings.TrimSpace(e.TLS.CertFile) == "" {
			problems = append(problems, "etcd cert file is required when TLS is enabled")
		}
		if strings.TrimSpace(e.TLS.KeyFile) == "" {
			problems = append(problems, "etcd key file is required when TLS is enabled")
		}
	}
	return problems
}

// ClientConfig loads the TLS material. It returns nil when TLS is disabled.
func (t EtcdTLSConfig) ClientConfig() (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}
	info := transport.TLSInfo{
		CertFile:           t.CertFile,
		KeyFile:            t.KeyFile,
		TrustedCAFile:      t.CAFile,
		InsecureSkipVerify: t.Insecure,
	}
	cfg, err := info.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("load etcd TLS material: %w", err)
	}
	return cfg, nil
}

// RemediationEnvironment returns the variables exported to the restart command.
func (c *Config) RemediationEnvironment() map[string]string {
	vars := map[string]string{
		"HEALTH_AGENT_SERVICE":   c.Service.Name,
		"HEALTH_AGENT_DISK_PATH": c.Disk.Path,
	}
	if c.NodeName != "" {
		vars["HEALTH_AGENT_NODE_NAME"] = c.NodeName
	}
	return vars
}
