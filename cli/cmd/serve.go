package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/spotlight/devserver"
	"github.com/justapithecus/spotlight/log"
	"github.com/justapithecus/spotlight/wire"
)

// serveShutdownTimeout bounds graceful shutdown of the mock upstream.
const serveShutdownTimeout = 5 * time.Second

// ServeCommand returns the serve command, which runs the mock upstream.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run a local mock upstream (handshake + live channel)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address", Value: "127.0.0.1:8080"},
			&cli.StringFlag{Name: "catalog", Usage: "YAML or JSON campaign catalog (default: built-in sample)"},
			&cli.StringFlag{Name: "encoding", Usage: "Live-channel encoding: json or msgpack", Value: "json"},
			&cli.StringFlag{Name: "token", Usage: "Only accept this bearer credential"},
			&cli.DurationFlag{Name: "ttl", Usage: "Descriptor lifetime", Value: devserver.DefaultDescriptorTTL},
			&cli.IntFlag{Name: "fragment", Usage: "Split replies into chunks of this many bytes"},
			&cli.DurationFlag{Name: "delay", Usage: "Wait before replying"},
			&cli.BoolFlag{Name: "drop", Usage: "Never reply"},
			&cli.BoolFlag{Name: "malformed", Usage: "Reply with undecodable payloads"},
			&cli.BoolFlag{Name: "duplicate", Usage: "Send every reply twice"},
			&cli.BoolFlag{Name: "bare", Usage: "Reply with bare campaign arrays"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error", Value: "info"},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	opts, err := serveOptions(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger := opts.Logger

	ln, err := net.Listen("tcp", c.String("addr"))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := devserver.New(opts)
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()
	logger.Info("mock upstream listening", map[string]any{
		"addr":      ln.Addr().String(),
		"encoding":  string(opts.Encoding),
		"campaigns": len(opts.Catalog),
	})
	fmt.Fprintf(os.Stderr, "spotlight serve: http://%s (ctrl+c to stop)\n", ln.Addr())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	st := srv.Stats()
	logger.Info("mock upstream stopped", map[string]any{
		"handshakes":  st.Handshakes,
		"connections": st.Connections,
		"fetches":     st.Fetches,
		"replies":     st.Replies,
	})
	_ = logger.Sync()
	return nil
}

func serveOptions(c *cli.Context) (devserver.Options, error) {
	enc, err := wire.ParseEncoding(c.String("encoding"))
	if err != nil {
		return devserver.Options{}, err
	}
	catalog := devserver.SampleCatalog()
	if path := c.String("catalog"); path != "" {
		if catalog, err = devserver.LoadCatalog(path); err != nil {
			return devserver.Options{}, err
		}
	}
	if c.Int("fragment") < 0 {
		return devserver.Options{}, errors.New("--fragment must not be negative")
	}

	logger := log.NewLogger(log.Session{InstanceID: "devserver"}).Named("devserver")
	if !logger.SetLevel(c.String("log-level")) {
		return devserver.Options{}, fmt.Errorf("unknown log level %q", c.String("log-level"))
	}

	return devserver.Options{
		Encoding:      enc,
		Catalog:       catalog,
		Bearer:        c.String("token"),
		DescriptorTTL: c.Duration("ttl"),
		Behavior: devserver.Behavior{
			FragmentSize: c.Int("fragment"),
			Delay:        c.Duration("delay"),
			Drop:         c.Bool("drop"),
			Malformed:    c.Bool("malformed"),
			Duplicate:    c.Bool("duplicate"),
			Bare:         c.Bool("bare"),
		},
		Logger: logger,
	}, nil
}
