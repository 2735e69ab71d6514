package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/justapithecus/spotlight/cli/config"
	"github.com/justapithecus/spotlight/journal"
)

// defaultServiceName is reported to the trace backend when the config
// leaves tracing.service_name empty.
const defaultServiceName = "spotlight"

// defaultLogLevel keeps engine logs on stderr quiet unless asked for.
const defaultLogLevel = "warn"

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// loadConfig resolves --config plus SPOTLIGHT_* variables, then applies the
// command's flags on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Resolve(c.String("config"))
	if err != nil {
		return nil, err
	}

	setString := func(flag string, dst *string) {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
	setString("api-url", &cfg.APIURL)
	setString("token", &cfg.Token)
	setString("user", &cfg.UserID)
	setString("encoding", &cfg.Encoding)
	setString("log-level", &cfg.Log.Level)
	setString("journal-backend", &cfg.Journal.Backend)
	setString("journal-path", &cfg.Journal.Path)
	setString("journal-dataset", &cfg.Journal.Dataset)
	setString("journal-region", &cfg.Journal.Region)
	setString("journal-endpoint", &cfg.Journal.Endpoint)
	if c.IsSet("journal-s3-path-style") {
		cfg.Journal.S3PathStyle = c.Bool("journal-s3-path-style")
	}
	if c.IsSet("fetch-timeout") {
		cfg.Live.FetchTimeout.Duration = c.Duration("fetch-timeout")
	}
	if c.IsSet("debounce") {
		cfg.Navigation.Debounce.Duration = c.Duration("debounce")
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	return cfg, nil
}

// openReadJournal opens the configured journal for queries. A memory
// journal is rejected because it would always be empty.
func openReadJournal(ctx context.Context, cfg *config.Config) (*journal.Journal, error) {
	switch cfg.Journal.Backend {
	case journal.BackendFS, journal.BackendS3:
	case "", "none":
		return nil, fmt.Errorf("no journal configured (set --journal-backend and --journal-path)")
	default:
		return nil, fmt.Errorf("unsupported journal backend for reads: %s (must be fs or s3)", cfg.Journal.Backend)
	}
	if cfg.Journal.Path == "" {
		return nil, fmt.Errorf("--journal-path is required for the %s backend", cfg.Journal.Backend)
	}
	j, err := journal.Open(ctx, *cfg.JournalConfig(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return j, nil
}

// setupTracing installs an OTLP/HTTP tracer provider when tracing.endpoint
// is set. The returned shutdown flushes pending spans.
func setupTracing(ctx context.Context, tc config.TracingConfig) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if tc.Endpoint == "" {
		return noop, nil
	}

	var opts []otlptracehttp.Option
	if strings.Contains(tc.Endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(tc.Endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(tc.Endpoint))
	}
	if tc.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return noop, fmt.Errorf("tracing: %w", err)
	}

	name := tc.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return noop, fmt.Errorf("tracing: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}

// splitScreens parses "home, cart,,checkout" into screen names.
func splitScreens(values []string) []string {
	var out []string
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
