package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"hawser/pkg/conn"
	"hawser/pkg/connector"
	"hawser/pkg/helper/util"
	"hawser/pkg/metrics"
)

func newDialCmd() *cobra.Command {
	var (
		retries int
		release bool
	)

	cmd := &cobra.Command{
		Use:   "dial URL",
		Short: "Dial an endpoint through the connection pool",
		Long: `Acquires a connection to the given URL through the pool, reporting DNS,
queueing and dial events as they happen. With --retries, failed dials are
retried with exponential backoff.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, ctx, cancel := setupCommand(cmd.Context())
			defer cancel()

			registry := metrics.NewRegistry()
			tcp, err := buildTCPConnector(cfg, logger, registry)
			if err != nil {
				return err
			}
			defer func() {
				if err := tcp.Close(); err != nil {
					logger.Error("Failed to close connector", err)
				}
			}()

			proxyURL, proxyAuth, err := proxyFromConfig(cfg)
			if err != nil {
				return err
			}
			policy, err := tlsPolicyFromConfig(cfg)
			if err != nil {
				return err
			}

			target, err := connector.NewTarget(args[0], connector.TargetOptions{
				TLS:       policy,
				Proxy:     proxyURL,
				ProxyAuth: proxyAuth,
			})
			if err != nil {
				return err
			}

			trace := printTrace(cmd)
			timeout := conn.Timeout{SockConnect: cfg.Timeout.SockConnect}

			dial := func() error {
				start := time.Now()
				h, err := tcp.Acquire(ctx, target, trace, timeout)
				if err != nil {
					return err
				}
				elapsed := time.Since(start)
				remote := "unknown"
				if transport := h.Transport(); transport != nil {
					remote = transport.RemoteAddr().String()
				}
				cmd.Printf("connected to %s (%s) in %s\n", target.ConnectionKey(), remote, elapsed.Round(time.Millisecond))

				if release {
					h.Release()
				} else if err := h.Close(); err != nil {
					logger.Error("Failed to close connection", err)
				}
				return nil
			}

			if retries > 0 {
				return util.RetryWithBackoff(ctx, retries, 500*time.Millisecond, 15*time.Second, dial)
			}
			return dial()
		},
	}

	cmd.Flags().IntVar(&retries, "retries", 0, "Retry failed dials this many times with exponential backoff")
	cmd.Flags().BoolVar(&release, "release", false, "Release the connection back to the pool instead of closing it")

	return cmd
}

// printTrace reports connector events on the command's output stream.
func printTrace(cmd *cobra.Command) *conn.Trace {
	return &conn.Trace{
		ConnQueuedStart:     func() { cmd.Println("pool: waiting for a free slot") },
		ConnQueuedEnd:       func() { cmd.Println("pool: slot available") },
		ConnCreateStart:     func() { cmd.Println("pool: dialing new connection") },
		ConnCreateEnd:       func() { cmd.Println("pool: connection established") },
		ConnReused:          func() { cmd.Println("pool: reusing idle connection") },
		DNSCacheHit:         func(host string) { cmd.Printf("dns: cache hit for %s\n", host) },
		DNSCacheMiss:        func(host string) { cmd.Printf("dns: cache miss for %s\n", host) },
		DNSResolveHostStart: func(host string) { cmd.Printf("dns: resolving %s\n", host) },
		DNSResolveHostEnd:   func(host string) { cmd.Printf("dns: resolved %s\n", host) },
	}
}
