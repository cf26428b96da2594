package app

import (
	"context"
	"io"
	"os"

	pkgadapter "hfttools/pkg/adapter"
	"hfttools/pkg/config"
	applogger "hfttools/pkg/logger"
)

// Builder wires the handler of one adapter from deployment config. The
// returned cleanup releases every client it opened.
type Builder func(ctx context.Context, cfg *config.Config, l *applogger.Logger) (pkgadapter.Handler, func(), error)

// App runs one adapter exchange over a pair of streams.
type App struct {
	name    string
	build   Builder
	loadCfg func() (*config.Config, error)
	stderr  io.Writer
}

// Option configures App.
type Option func(*App)

// WithConfigLoader replaces config.LoadFromEnv.
func WithConfigLoader(load func() (*config.Config, error)) Option {
	return func(a *App) {
		a.loadCfg = load
	}
}

// WithLogWriter sends logs to w instead of the configured sink.
func WithLogWriter(w io.Writer) Option {
	return func(a *App) {
		a.stderr = w
	}
}

// New creates an App for the named adapter.
func New(name string, build Builder, opts ...Option) *App {
	a := &App{name: name, build: build, loadCfg: config.LoadFromEnv}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run reads one request from in, writes one line to out and returns the
// exit code.
func (a *App) Run(ctx context.Context, in io.Reader, out io.Writer) int {
	cfg, cfgErr := a.loadCfg()
	l := a.logger(cfg)

	return pkgadapter.Run(ctx, in, out, pkgadapter.Options{
		Name:   a.name,
		Logger: l,
		Build: func(ctx context.Context) (pkgadapter.Handler, func(), error) {
			if cfgErr != nil {
				return nil, nil, pkgadapter.Wrap(pkgadapter.KindInternalFailure, cfgErr, "load deployment config")
			}
			return a.build(ctx, cfg, l)
		},
	})
}

// logger never writes to stdout, which carries the result line.
func (a *App) logger(cfg *config.Config) *applogger.Logger {
	if cfg == nil {
		cfg = config.Default()
	}
	if a.stderr != nil {
		return applogger.NewWriter(a.stderr, cfg.Log.Level)
	}
	output := cfg.Log.Output
	if output == "stdout" {
		output = "stderr"
	}
	l, err := applogger.New(&applogger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: output})
	if err != nil {
		l = applogger.NewWriter(os.Stderr, "warn")
		l.Warn("invalid log config, using defaults", applogger.Error(err))
	}
	return l
}

// Main runs the named adapter on stdin/stdout.
func Main(ctx context.Context, name string, build Builder) int {
	return New(name, build).Run(ctx, os.Stdin, os.Stdout)
}
