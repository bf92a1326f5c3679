package model

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

const (
	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"
)

// Config is the full service configuration.
type Config struct {
	Version int     `yaml:"version" json:"version"` // fixed 0 for now
	Admin   Admin   `yaml:"admin" json:"admin"`
	Checks  Checks  `yaml:"checks" json:"checks"`
	Simple  Simple  `yaml:"simple" json:"simple"`
	Server  Server  `yaml:"server" json:"server"`
	Store   Store   `yaml:"store" json:"store"`
	Keys    Keys    `yaml:"keys" json:"keys"`
	Sweep   *Sweep  `yaml:"sweep,omitempty" json:"sweep,omitempty"`
	Service Service `yaml:"service" json:"service"`
}

// Admin is where elevated diagnostics go.
type Admin struct {
	Email string `yaml:"email" json:"email"`
}

// Checks configures the check execution engine.
type Checks struct {
	MaxRetryAttempts   int      `yaml:"max_retry_attempts" json:"max_retry_attempts" default:"3"`
	RetryDelaySeconds  int      `yaml:"retry_delay" json:"retry_delay" default:"5"`
	ReportExpiration   int      `yaml:"report_expiration" json:"report_expiration" default:"604800"` // seconds
	Workers            int      `yaml:"workers" json:"workers" default:"4"`
	CriticalHosts      []string `yaml:"critical_hosts,omitempty" json:"critical_hosts,omitempty"`
	NotifyConnFailures bool     `yaml:"notify_connection_failures" json:"notify_connection_failures" default:"true"`
	NotifyCritical     bool     `yaml:"notify_critical_errors" json:"notify_critical_errors" default:"true"`
}

func (c Checks) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

func (c Checks) ReportTTL() time.Duration {
	return time.Duration(c.ReportExpiration) * time.Second
}

// IsCritical reports whether fqdn is on the critical-hosts list.
func (c Checks) IsCritical(fqdn string) bool {
	for _, h := range c.CriticalHosts {
		if h == fqdn {
			return true
		}
	}
	return false
}

// Simple configures the anonymous self-service flow throttles.
// Limits are per window; zero disables the vector.
type Simple struct {
	// Secret derives contact verification tokens; simple mode is
	// disabled while empty.
	Secret string `yaml:"secret,omitempty" json:"secret,omitempty"`
	// Attempts is how many failed contact verifications one identity
	// gets before an abuse incident is opened.
	Attempts      int `yaml:"attempts" json:"attempts" default:"5"`
	WindowSeconds int    `yaml:"window" json:"window" default:"3600"`
	IPLimit       int    `yaml:"ip_limit" json:"ip_limit" default:"5"`
	EmailLimit    int    `yaml:"email_limit" json:"email_limit" default:"5"`
	DomainLimit   int    `yaml:"domain_limit" json:"domain_limit" default:"10"`
	SubnetLimit   int    `yaml:"subnet_limit" json:"subnet_limit" default:"20"`
	GlobalLimit   int    `yaml:"global_limit" json:"global_limit" default:"200"`
}

func (s Simple) Window() time.Duration {
	return time.Duration(s.WindowSeconds) * time.Second
}

// Server is the HTTP API configuration.
type Server struct {
	Addr      string  `yaml:"addr" json:"addr" default:":8476"`
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" default:"5"` // requests per second per client
	RateBurst int     `yaml:"rate_burst" json:"rate_burst" default:"10"`
}

// Store is the sqlite persistence configuration.
type Store struct {
	Path string `yaml:"path" json:"path" default:"unblockd.db"`
}

// Keys configures the ephemeral key material directory and the age
// after which the sweep removes private keys left behind.
type Keys struct {
	Dir           string `yaml:"dir" json:"dir" default:"keys"`
	MaxAgeSeconds int    `yaml:"max_age" json:"max_age" default:"86400"`
	// Shell hooks wrapping the hosting panel's authorized_keys API.
	InstallHook string `yaml:"install_hook,omitempty" json:"install_hook,omitempty"`
	RemoveHook  string `yaml:"remove_hook,omitempty" json:"remove_hook,omitempty"`
}

func (k Keys) MaxAge() time.Duration {
	return time.Duration(k.MaxAgeSeconds) * time.Second
}

// Sweep defines when the maintenance sweeps run, either a 5-field cron
// expression or an ISO-8601 duration. Both empty is a config error when
// the section is present.
type Sweep struct {
	Cron     string `yaml:"cron,omitempty" json:"cron,omitempty"`
	Duration string `yaml:"duration,omitempty" json:"duration,omitempty"`
}

// Service holds shared runtime flags.
type Service struct {
	Verbose bool   `yaml:"verbose,omitempty" json:"verbose,omitempty"`
	Log     string `yaml:"log,omitempty" json:"log,omitempty" default:"stderr"`
}

func (c Config) IsZero() bool {
	return c.Admin.Email == "" && c.Sweep == nil && !c.Service.Verbose
}

// LoadConfig reads a YAML configuration, applies defaults and validates.
func LoadConfig(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	if err := defaults.Set(&cfg); err != nil {
		return cfg, fmt.Errorf("applying config defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func LoadConfigFromPath(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening config %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	return LoadConfig(f)
}

// DefaultConfig returns the configuration written on a first run.
func DefaultConfig() Config {
	var cfg Config
	// defaults.Set only errors on non-pointer input
	_ = defaults.Set(&cfg)
	cfg.Sweep = &Sweep{Cron: "@hourly"}
	return cfg
}

func (c Config) Validate() error {
	var errs []error
	if c.Version != 0 {
		errs = append(errs, fmt.Errorf("unsupported config version %d", c.Version))
	}
	if c.Checks.MaxRetryAttempts < 1 {
		errs = append(errs, errors.New("checks.max_retry_attempts must be at least 1"))
	}
	if c.Checks.Workers < 1 {
		errs = append(errs, errors.New("checks.workers must be at least 1"))
	}
	if c.Checks.ReportExpiration < 1 {
		errs = append(errs, errors.New("checks.report_expiration must be positive"))
	}
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errs = append(errs, fmt.Errorf("server.addr %q: %w", c.Server.Addr, err))
	}
	switch c.Service.Log {
	case LogStderr, LogStdout, LogDiscard:
	default:
		// any other value is a path, nothing to validate here
	}
	if c.Sweep != nil {
		switch {
		case c.Sweep.Cron != "":
			if _, err := ParseCron(c.Sweep.Cron); err != nil {
				errs = append(errs, fmt.Errorf("sweep.cron: %w", err))
			}
		case c.Sweep.Duration != "":
			if _, err := ParseISODuration(c.Sweep.Duration); err != nil {
				errs = append(errs, fmt.Errorf("sweep.duration: %w", err))
			}
		default:
			errs = append(errs, errors.New("sweep requires either cron or duration"))
		}
	}
	return errors.Join(errs...)
}
