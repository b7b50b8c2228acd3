// Package config holds the CLI configuration: connector options, DNS cache
// behavior, TLS policy, proxy routing and the debug server, loadable from a
// YAML file, environment variables and flags.
package config

import (
	"time"

	"github.com/spf13/cobra"

	"hawser/pkg/helper/errors"
)

// Config is the root CLI configuration.
type Config struct {
	// LogLevel controls logging verbosity (debug, info, warn, error, fatal).
	LogLevel string `yaml:"logLevel"`

	// JSONLogs selects the structured JSON logger.
	JSONLogs bool `yaml:"jsonLogs"`

	Pool    PoolConfig    `yaml:"pool"`
	DNS     DNSConfig     `yaml:"dns"`
	TLS     TLSConfig     `yaml:"tls"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Timeout TimeoutConfig `yaml:"timeout"`
	Server  ServerConfig  `yaml:"server"`
}

// PoolConfig carries the connection pool options.
type PoolConfig struct {
	// Limit caps simultaneous connections; 0 uses the default, -1 disables.
	Limit int `yaml:"limit"`

	// LimitPerHost caps simultaneous connections per endpoint; 0 is
	// unlimited.
	LimitPerHost int `yaml:"limitPerHost"`

	// KeepAlive is the idle budget for pooled connections.
	KeepAlive time.Duration `yaml:"keepAlive"`

	// ForceClose discards every connection after use.
	ForceClose bool `yaml:"forceClose"`

	// DialRateLimit throttles new dials per second; 0 disables.
	DialRateLimit float64 `yaml:"dialRateLimit"`
	DialBurst     int     `yaml:"dialBurst"`
}

// DNSConfig carries the resolver options.
type DNSConfig struct {
	UseCache bool          `yaml:"useCache"`
	CacheTTL time.Duration `yaml:"cacheTTL"`

	// Family restricts resolution: "any", "ipv4" or "ipv6".
	Family string `yaml:"family"`
}

// TLSConfig carries the TLS policy options.
type TLSConfig struct {
	// Insecure disables certificate chain verification.
	Insecure bool `yaml:"insecure"`

	// Fingerprint pins the peer certificate to a hex-encoded SHA-256 digest.
	Fingerprint string `yaml:"fingerprint"`
}

// ProxyConfig carries proxy routing options.
type ProxyConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TimeoutConfig bounds connection establishment.
type TimeoutConfig struct {
	SockConnect time.Duration `yaml:"sockConnect"`
}

// ServerConfig carries the debug server options.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// NewDefaultConfig returns the default configuration.
func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Pool: PoolConfig{
			Limit:        0,
			LimitPerHost: 0,
			KeepAlive:    0,
			ForceClose:   false,
		},
		DNS: DNSConfig{
			UseCache: true,
			CacheTTL: 10 * time.Second,
			Family:   "any",
		},
		Timeout: TimeoutConfig{
			SockConnect: 30 * time.Second,
		},
		Server: ServerConfig{
			ListenAddr:      ":8585",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.DNS.Family {
	case "", "any", "ipv4", "ipv6":
	default:
		return errors.InvalidInputf("dns family must be any, ipv4 or ipv6, got %q", c.DNS.Family)
	}
	if c.Pool.ForceClose && c.Pool.KeepAlive != 0 {
		return errors.InvalidInputf("pool keepAlive cannot be combined with forceClose")
	}
	if c.Pool.Limit < -1 {
		return errors.InvalidInputf("pool limit must be -1, 0 or positive")
	}
	if c.Pool.LimitPerHost < 0 {
		return errors.InvalidInputf("pool limitPerHost must be 0 or positive")
	}
	if c.Proxy.Password != "" && c.Proxy.Username == "" {
		return errors.InvalidInputf("proxy password requires a username")
	}
	return nil
}

// AddFlagsToCommand adds the shared configuration flags to a cobra command.
func (c *Config) AddFlagsToCommand(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error, fatal)")
	cmd.PersistentFlags().BoolVar(&c.JSONLogs, "json-logs", c.JSONLogs, "Emit structured JSON logs")

	cmd.PersistentFlags().IntVar(&c.Pool.Limit, "limit", c.Pool.Limit, "Total simultaneous connections (0 = default, -1 = unlimited)")
	cmd.PersistentFlags().IntVar(&c.Pool.LimitPerHost, "limit-per-host", c.Pool.LimitPerHost, "Simultaneous connections per endpoint (0 = unlimited)")
	cmd.PersistentFlags().DurationVar(&c.Pool.KeepAlive, "keepalive", c.Pool.KeepAlive, "Idle keep-alive budget (0 = default 15s)")
	cmd.PersistentFlags().BoolVar(&c.Pool.ForceClose, "force-close", c.Pool.ForceClose, "Discard connections after every use")
	cmd.PersistentFlags().Float64Var(&c.Pool.DialRateLimit, "dial-rate", c.Pool.DialRateLimit, "New dials per second (0 = unthrottled)")

	cmd.PersistentFlags().BoolVar(&c.DNS.UseCache, "dns-cache", c.DNS.UseCache, "Cache DNS answers and coalesce lookups")
	cmd.PersistentFlags().DurationVar(&c.DNS.CacheTTL, "dns-ttl", c.DNS.CacheTTL, "DNS cache TTL (0 = forever)")
	cmd.PersistentFlags().StringVar(&c.DNS.Family, "family", c.DNS.Family, "Address family (any, ipv4, ipv6)")

	cmd.PersistentFlags().BoolVar(&c.TLS.Insecure, "insecure", c.TLS.Insecure, "Skip TLS certificate verification")
	cmd.PersistentFlags().StringVar(&c.TLS.Fingerprint, "fingerprint", c.TLS.Fingerprint, "Pin the peer certificate to this hex SHA-256 digest")

	cmd.PersistentFlags().StringVar(&c.Proxy.URL, "proxy", c.Proxy.URL, "HTTP proxy URL")
	cmd.PersistentFlags().StringVar(&c.Proxy.Username, "proxy-user", c.Proxy.Username, "Proxy username (password is prompted when omitted)")

	cmd.PersistentFlags().DurationVar(&c.Timeout.SockConnect, "connect-timeout", c.Timeout.SockConnect, "Per-attempt connect timeout, including TLS")
}

// AddServeFlagsToCommand adds debug-server flags to a command.
func (c *Config) AddServeFlagsToCommand(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.Server.ListenAddr, "listen", c.Server.ListenAddr, "Debug server listen address")
	cmd.Flags().DurationVar(&c.Server.ShutdownTimeout, "shutdown-timeout", c.Server.ShutdownTimeout, "Graceful shutdown budget")
}
