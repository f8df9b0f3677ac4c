// Package config loads guardian configuration from YAML with built-in
// defaults. Missing file means defaults; malformed file or invalid values
// are fatal at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5m".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Scoring holds heuristic weights and level boundaries for threat scoring.
type Scoring struct {
	// Score boundaries: score < MediumMin -> low, score < HighMin -> medium,
	// otherwise high.
	MediumMin int `yaml:"medium_min"`
	HighMin   int `yaml:"high_min"`

	// AutoRespondMin is the score at which a high assessment may execute
	// without escalation when the gate is at auto_respond.
	AutoRespondMin int `yaml:"auto_respond_min"`

	Baseline         int `yaml:"baseline"`
	SuspiciousBinary int `yaml:"suspicious_binary"`
	CriticalPath     int `yaml:"critical_path"`
	SensitivePath    int `yaml:"sensitive_path"`
	UnseenOutbound   int `yaml:"unseen_outbound"`
	SafeDestination  int `yaml:"safe_destination"`

	CriticalPathPrefixes  []string `yaml:"critical_path_prefixes"`
	SensitivePathPrefixes []string `yaml:"sensitive_path_prefixes"`
	SuspiciousBinaries    []string `yaml:"suspicious_binaries"`
	SafeDestinations      []string `yaml:"safe_destinations"`
}

// Oracle holds the external scoring model settings.
type Oracle struct {
	Enabled   bool     `yaml:"enabled"`
	APIURL    string   `yaml:"api_url"`
	APIKey    string   `yaml:"api_key"`
	Model     string   `yaml:"model"`
	MaxTokens int      `yaml:"max_tokens"`
	Timeout   Duration `yaml:"timeout"`
}

// Widgets holds per-sensor settings.
type Widgets struct {
	Enabled      []string `yaml:"enabled"`
	WatchPaths   []string `yaml:"watch_paths"`
	PollInterval Duration `yaml:"poll_interval"`
	ScanCommand  string   `yaml:"scan_command"`
}

// NATS holds message bus ingest settings. Empty URL disables the subscriber.
type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Postgres holds the optional assessment store settings. Empty DSN disables it.
type Postgres struct {
	DSN string `yaml:"dsn"`
}

// Config is the full guardian configuration.
type Config struct {
	PermissionLevel   string   `yaml:"permission_level"`
	QueueCapacity     int      `yaml:"queue_capacity"`
	EscalationTimeout Duration `yaml:"escalation_timeout"`
	AuditPath         string   `yaml:"audit_path"`
	HTTPAddr          string   `yaml:"http_addr"`

	Scoring  Scoring  `yaml:"scoring"`
	Oracle   Oracle   `yaml:"oracle"`
	Widgets  Widgets  `yaml:"widgets"`
	NATS     NATS     `yaml:"nats"`
	Postgres Postgres `yaml:"postgres"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		PermissionLevel:   "observe",
		QueueCapacity:     256,
		EscalationTimeout: Duration(5 * time.Minute),
		AuditPath:         "",
		HTTPAddr:          "127.0.0.1:8440",
		Scoring: Scoring{
			MediumMin:        40,
			HighMin:          75,
			AutoRespondMin:   90,
			Baseline:         10,
			SuspiciousBinary: 65,
			CriticalPath:     50,
			SensitivePath:    30,
			UnseenOutbound:   50,
			SafeDestination:  -30,
			CriticalPathPrefixes: []string{
				"/etc/", "/boot/", "/usr/bin/", "/usr/sbin/",
				"C:\\Windows\\System32",
			},
			SensitivePathPrefixes: []string{
				"/home/", "/root/", "/var/log/",
			},
			SuspiciousBinaries: []string{
				"powershell.exe", "mimikatz", "nc", "ncat", "socat",
				"xmrig", "meterpreter",
			},
			SafeDestinations: []string{
				"127.0.0.1", "::1", "10.", "192.168.",
			},
		},
		Oracle: Oracle{
			Enabled:   true,
			APIURL:    "http://localhost:11434/v1/chat/completions",
			Model:     "llama3",
			MaxTokens: 200,
			Timeout:   Duration(10 * time.Second),
		},
		Widgets: Widgets{
			Enabled:      []string{"file_integrity", "process_monitor", "network_sniffer"},
			WatchPaths:   []string{"/etc", "/usr/bin"},
			PollInterval: Duration(2 * time.Second),
		},
		NATS: NATS{
			Subject: "guardian.events.>",
		},
	}
}

// Load reads configuration from path. Empty path falls back to
// ~/.guardian/config.yaml. Missing file returns defaults; invalid YAML or
// invalid values return an error.
func Load(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Default(), nil
		}
		path = filepath.Join(home, ".guardian", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Start with defaults, YAML overwrites only specified fields.
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that would otherwise surface as silent
// misbehavior at runtime.
func (c *Config) Validate() error {
	s := c.Scoring
	if s.MediumMin < 0 || s.MediumMin > 100 {
		return fmt.Errorf("config: scoring.medium_min %d out of range 0-100", s.MediumMin)
	}
	if s.HighMin <= s.MediumMin || s.HighMin > 100 {
		return fmt.Errorf("config: scoring.high_min %d must be in (%d, 100]", s.HighMin, s.MediumMin)
	}
	if s.AutoRespondMin < s.HighMin || s.AutoRespondMin > 100 {
		return fmt.Errorf("config: scoring.auto_respond_min %d must be in [%d, 100]", s.AutoRespondMin, s.HighMin)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("config: queue_capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.EscalationTimeout <= 0 {
		return fmt.Errorf("config: escalation_timeout must be positive, got %s", c.EscalationTimeout)
	}
	return nil
}

// ResolveAuditPath returns the configured audit path, defaulting to
// ~/.guardian/audit.log.
func (c *Config) ResolveAuditPath() (string, error) {
	if c.AuditPath != "" {
		return c.AuditPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve audit path: %w", err)
	}
	return filepath.Join(home, ".guardian", "audit.log"), nil
}

// DefaultYAML returns a commented config file for guardian init.
func DefaultYAML() string {
	return `# guardian configuration
#
# permission_level gates autonomous response. One of:
#   observe | alert | analyze | isolate | auto_respond
permission_level: observe

# Event queue capacity. When full, the oldest queued event is dropped.
queue_capacity: 256

# How long a pending escalation waits for an answer before it is denied.
escalation_timeout: 5m

# Audit log location. Defaults to ~/.guardian/audit.log.
# audit_path: /var/log/guardian/audit.log

# Control API bind address.
http_addr: 127.0.0.1:8440

scoring:
  # score < medium_min -> low, < high_min -> medium, otherwise high
  medium_min: 40
  high_min: 75
  # minimum score for unattended execution at auto_respond
  auto_respond_min: 90

oracle:
  enabled: true
  api_url: http://localhost:11434/v1/chat/completions
  model: llama3
  timeout: 10s

widgets:
  enabled: [file_integrity, process_monitor, network_sniffer]
  watch_paths: [/etc, /usr/bin]
  poll_interval: 2s
  # scan_command: clamscan

# Optional NATS ingest. Empty url disables the subscriber.
nats:
  url: ""
  subject: guardian.events.>

# Optional assessment store. Empty dsn disables it.
postgres:
  dsn: ""
`
}
