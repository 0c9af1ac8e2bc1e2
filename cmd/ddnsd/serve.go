package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Travis-Britz/ddnsd"
	"github.com/Travis-Britz/ddnsd/internal/config"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the update endpoint.",
		Long: `Serve the update endpoint.

The configuration file is read from --config, then $` + config.EnvPath + `, then ./` + config.DefaultPath + `.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, slog.Default())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	_ = cmd.MarkFlagFilename("config", "yaml", "yml")
	return cmd
}

// handlerOptions translates the configuration into handler options.
func handlerOptions(cfg *config.Config, logger *slog.Logger) []ddns.Option {
	httpClient := &http.Client{Timeout: cfg.WriteTimeout}
	opts := []ddns.Option{
		ddns.UsingCloudflare(cfg.Cloudflare.BaseURL),
		ddns.UsingHTTPClient(httpClient),
		ddns.WithLogger(logger),
		ddns.BehindTLSProxy(cfg.BehindTLSProxy),
	}
	switch {
	case cfg.ForwardedProtoHeader != nil:
		opts = append(opts, ddns.TrustForwardedProto(*cfg.ForwardedProtoHeader))
	case cfg.TLS.Enabled():
		// clients connect directly; nothing in front of us sets the header
		opts = append(opts, ddns.TrustForwardedProto(""))
	}
	if cfg.ClientIPHeader != nil {
		opts = append(opts, ddns.TrustClientIPHeader(*cfg.ClientIPHeader))
	}
	if cfg.Telegram.Enabled() {
		opts = append(opts, ddns.UsingNotifier(ddns.NewTelegram(cfg.Telegram.BaseURL, cfg.Telegram.BotToken, cfg.Telegram.ChatID)))
	}
	return opts
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	handler, err := ddns.New(handlerOptions(cfg, logger)...)
	if err != nil {
		return err
	}

	servers := []*http.Server{newServer(cfg, handler, logger)}
	if cfg.TLS.Enabled() {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			return fmt.Errorf("loading TLS key pair: %w", err)
		}
		servers[0].TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}
	if cfg.MetricsListen != "" {
		servers = append(servers, newMetricsServer(cfg, logger))
	}

	listeners := make([]net.Listener, len(servers))
	for i, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			for _, l := range listeners[:i] {
				l.Close()
			}
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		listeners[i] = ln
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		ln := listeners[i]
		g.Go(func() error {
			logger.Info("listening", "addr", ln.Addr().String(), "tls", srv.TLSConfig != nil)
			var err error
			if srv.TLSConfig != nil {
				err = srv.ServeTLS(ln, "", "")
			} else {
				err = srv.Serve(ln)
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func newServer(cfg *config.Config, handler http.Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}

func newMetricsServer(cfg *config.Config, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "ok")
	})
	return &http.Server{
		Addr:              cfg.MetricsListen,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}
