package cmd

import (
	"fmt"
	"net/url"
	"os"
	"syscall"

	"golang.org/x/term"
	"golang.org/x/time/rate"

	"hawser/pkg/conn"
	"hawser/pkg/config"
	"hawser/pkg/connector"
	"hawser/pkg/helper/errors"
	"hawser/pkg/helper/log"
	"hawser/pkg/metrics"
	"hawser/pkg/resolve"
)

// buildTCPConnector assembles a TCP connector from the CLI configuration.
func buildTCPConnector(cfg *config.Config, logger log.Logger, registry *metrics.Registry) (*connector.TCPConnector, error) {
	tcpCfg := connector.DefaultTCPConfig()
	tcpCfg.Logger = logger
	tcpCfg.Metrics = registry

	tcpCfg.Limit = cfg.Pool.Limit
	if cfg.Pool.Limit == -1 {
		tcpCfg.Limit = connector.NoLimit
	}
	tcpCfg.LimitPerHost = cfg.Pool.LimitPerHost
	tcpCfg.KeepAliveTimeout = cfg.Pool.KeepAlive
	tcpCfg.ForceClose = cfg.Pool.ForceClose
	tcpCfg.DialRateLimit = rate.Limit(cfg.Pool.DialRateLimit)
	tcpCfg.DialBurst = cfg.Pool.DialBurst

	tcpCfg.UseDNSCache = cfg.DNS.UseCache
	tcpCfg.DNSCacheTTL = cfg.DNS.CacheTTL
	family, err := parseFamily(cfg.DNS.Family)
	if err != nil {
		return nil, err
	}
	tcpCfg.Family = family

	policy, err := tlsPolicyFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	tcpCfg.TLS = policy

	return connector.NewTCPConnector(tcpCfg)
}

func parseFamily(family string) (int, error) {
	switch family {
	case "", "any":
		return resolve.FamilyAny, nil
	case "ipv4":
		return resolve.FamilyIPv4, nil
	case "ipv6":
		return resolve.FamilyIPv6, nil
	default:
		return 0, errors.InvalidInputf("unknown address family %q", family)
	}
}

func tlsPolicyFromConfig(cfg *config.Config) (*conn.TLSPolicy, error) {
	if !cfg.TLS.Insecure && cfg.TLS.Fingerprint == "" {
		return nil, nil
	}
	policy := &conn.TLSPolicy{InsecureSkipVerify: cfg.TLS.Insecure}
	if cfg.TLS.Fingerprint != "" {
		fp, err := conn.ParseFingerprint(cfg.TLS.Fingerprint)
		if err != nil {
			return nil, err
		}
		policy.Fingerprint = &fp
	}
	return policy, nil
}

// proxyFromConfig resolves the proxy URL and credentials, prompting for a
// password on an interactive terminal when only a username was given.
func proxyFromConfig(cfg *config.Config) (*url.URL, *conn.ProxyAuth, error) {
	if cfg.Proxy.URL == "" {
		return nil, nil, nil
	}
	proxyURL, err := url.Parse(cfg.Proxy.URL)
	if err != nil {
		return nil, nil, errors.InvalidInputf("invalid proxy URL %q: %v", cfg.Proxy.URL, err)
	}

	if cfg.Proxy.Username == "" {
		return proxyURL, nil, nil
	}

	password := cfg.Proxy.Password
	if password == "" && term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprintf(os.Stderr, "Proxy password for %s: ", cfg.Proxy.Username)
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to read proxy password")
		}
		password = string(raw)
	}

	return proxyURL, &conn.ProxyAuth{Username: cfg.Proxy.Username, Password: password}, nil
}
