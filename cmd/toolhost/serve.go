package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/callbacks"
	"github.com/effective-security/toolchat/config"
	"github.com/effective-security/toolchat/discovery"
	"github.com/effective-security/toolchat/host"
	"github.com/effective-security/toolchat/tools/demo"
	"github.com/effective-security/toolchat/tools/tavily"
	"github.com/effective-security/xlog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "toolhost")

type hostOptions struct {
	logLevel    string
	logFormat   string
	proxy       string
	callTimeout time.Duration
	listen      string
	path        string
}

func newServeCmd(opts *hostOptions) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tools",
	}
	serveCmd.PersistentFlags().StringVar(&opts.proxy, "proxy", "", "Re-export the tools of the streamable HTTP host at this URL")
	serveCmd.PersistentFlags().DurationVar(&opts.callTimeout, "call-timeout", host.DefaultCallTimeout, "Bound of a single tool call")

	stdioCmd := &cobra.Command{
		Use:   "stdio",
		Short: "Serve on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, closer, err := buildHost(ctx, opts)
			if err != nil {
				return err
			}
			defer closer()
			return h.ServeStdio(ctx)
		},
	}

	httpCmd := &cobra.Command{
		Use:   "http",
		Short: "Serve streamable HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, closer, err := buildHost(ctx, opts)
			if err != nil {
				return err
			}
			defer closer()
			return serveHTTP(ctx, h, opts.listen, opts.path)
		},
	}
	httpCmd.Flags().StringVar(&opts.listen, "listen", ":8000", "Listen address")
	httpCmd.Flags().StringVar(&opts.path, "path", "/mcp", "Endpoint path")

	serveCmd.AddCommand(stdioCmd, httpCmd)
	return serveCmd
}

func newListCmd(opts *hostOptions) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the served tools as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, closer, err := buildHost(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closer()

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(h.ListTools())
		},
	}
	listCmd.Flags().StringVar(&opts.proxy, "proxy", "", "List the tools of the streamable HTTP host at this URL")
	return listCmd
}

// buildHost configures logging on stderr and returns the host with its tools.
// The returned closer releases the proxy connection.
func buildHost(ctx context.Context, opts *hostOptions) (*host.Host, func(), error) {
	cfg := &config.Config{Logs: config.Logs{Level: opts.logLevel, Format: opts.logFormat}}
	// stdout carries the JSON-RPC stream in stdio mode
	if err := cfg.SetupLogging(os.Stderr); err != nil {
		return nil, nil, err
	}

	name := "toolhost"
	if opts.proxy != "" {
		name = "toolhost-proxy"
	}
	h := host.New(name, version,
		host.WithCallTimeout(opts.callTimeout),
		host.WithCallback(callbacks.NewPackageLogger(logger)),
	)

	if opts.proxy == "" {
		list := append(demo.Tools(), tavily.Optional()...)
		if err := h.Register(list...); err != nil {
			return nil, nil, err
		}
		return h, func() {}, nil
	}

	registry, err := discovery.Discover(ctx, []discovery.Endpoint{{
		Name:      "upstream",
		Transport: discovery.TransportStreamableHTTP,
		URL:       opts.proxy,
	}}, discovery.WithClientInfo(name, version))
	if err != nil {
		return nil, nil, err
	}
	closer := func() { _ = registry.Close() }

	if failures := registry.Failures(); len(failures) > 0 {
		closer()
		return nil, nil, errors.WithStack(&failures[0])
	}
	if err = h.Register(registry.Tools()...); err != nil {
		closer()
		return nil, nil, err
	}
	return h, closer, nil
}

func serveHTTP(ctx context.Context, h *host.Host, listen, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, h.HTTPHandler())

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.KV(xlog.INFO,
			"status", "serving",
			"transport", "http",
			"listen", listen,
			"path", path,
			"tools", h.Names(),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server failed")
	case <-ctx.Done():
	}

	logger.KV(xlog.INFO, "status", "shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.WithStack(srv.Shutdown(shutdownCtx))
}
