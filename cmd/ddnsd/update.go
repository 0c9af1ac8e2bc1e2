package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Travis-Britz/ddnsd/internal/client"
)

type updateOptions struct {
	endpoint   string
	hostnames  []string
	username   string
	tokenEnv   string
	ips        []string
	interfaces []string
	webURLs    []string
	interval   time.Duration
}

func newUpdateCommand() *cobra.Command {
	opts := updateOptions{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Publish this machine's addresses to an update endpoint.",
		Long: `Publish this machine's addresses to an update endpoint.

Addresses come from --ip, else from the web services given with --web, else from the local
interfaces (all of them unless --interface is given). With --interval the update repeats until
interrupted; intervals below one minute are raised to one minute.`,
		Example: `  DDNS_TOKEN=... ddnsd update --endpoint https://ddns.example.com/update \
    --hostname home.example.com --web https://ipv4.icanhazip.com --interval 5m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(slog.Default())
			if err != nil {
				return err
			}
			if opts.interval == 0 {
				return c.Update(cmd.Context())
			}
			c.Run(cmd.Context(), opts.interval)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "URL of the update endpoint")
	cmd.Flags().StringSliceVar(&opts.hostnames, "hostname", nil, "Hostname to update (repeatable)")
	cmd.Flags().StringVar(&opts.username, "zone", "", "Zone name sent as the Basic auth username")
	cmd.Flags().StringVar(&opts.tokenEnv, "token-env", "DDNS_TOKEN", "Environment variable holding the API token")
	cmd.Flags().StringSliceVar(&opts.ips, "ip", nil, "Publish these addresses instead of resolving them")
	cmd.Flags().StringSliceVar(&opts.interfaces, "interface", nil, "Publish the addresses of these interfaces")
	cmd.Flags().StringSliceVar(&opts.webURLs, "web", nil, "Resolve the public address through these web services")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "Repeat the update at this interval")
	_ = cmd.MarkFlagRequired("endpoint")
	_ = cmd.MarkFlagRequired("hostname")
	cmd.MarkFlagsMutuallyExclusive("ip", "interface", "web")
	return cmd
}

func (o updateOptions) client(logger *slog.Logger) (*client.Client, error) {
	token := strings.TrimSpace(os.Getenv(o.tokenEnv))
	if token == "" {
		return nil, fmt.Errorf("the API token must be set in $%s", o.tokenEnv)
	}
	if len(o.hostnames) == 0 {
		return nil, errors.New("at least one --hostname is required")
	}

	var resolver client.Resolver
	switch {
	case len(o.ips) > 0:
		r, err := client.Static(o.ips...)
		if err != nil {
			return nil, err
		}
		resolver = r
	case len(o.webURLs) > 0:
		r, err := client.WebResolver(nil, o.webURLs...)
		if err != nil {
			return nil, err
		}
		resolver = r
	default:
		resolver = client.InterfaceResolver(o.interfaces...)
	}

	return client.New(o.endpoint, o.hostnames,
		client.WithCredential(o.username, token),
		client.UsingResolver(resolver),
		client.WithLogger(logger),
	)
}
