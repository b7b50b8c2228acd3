package cmd

import (
	"github.com/spf13/cobra"

	"hawser/pkg/metrics"
	"hawser/pkg/resolve"
)

func newResolveCmd() *cobra.Command {
	var (
		port  int
		count int
	)

	cmd := &cobra.Command{
		Use:   "resolve HOST",
		Short: "Resolve a host through the caching resolver",
		Long: `Resolves the host the way the TCP dialer would: literal IPs short-circuit,
answers are cached and rotated round-robin. Repeating the lookup with
--count shows the rotation the dialers will see.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, ctx, cancel := setupCommand(cmd.Context())
			defer cancel()

			family, err := parseFamily(cfg.DNS.Family)
			if err != nil {
				return err
			}

			resolver := resolve.NewCachedResolver(resolve.CachedResolverOptions{
				UseCache: cfg.DNS.UseCache,
				TTL:      cfg.DNS.CacheTTL,
				Family:   family,
				Logger:   logger,
				Metrics:  metrics.NewRegistry(),
			})

			host := args[0]
			for i := 0; i < count; i++ {
				addrs, err := resolver.ResolveHost(ctx, host, port, nil)
				if err != nil {
					return err
				}
				for _, record := range addrs {
					cmd.Printf("%-4d %s -> %s:%d (family %d)\n", i+1, record.Hostname, record.Host, record.Port, record.Family)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 443, "Port the lookup is keyed under")
	cmd.Flags().IntVar(&count, "count", 1, "Number of lookups, showing cache rotation")

	return cmd
}
