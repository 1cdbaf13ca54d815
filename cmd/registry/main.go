// Command registry runs the npm-compatible private registry and
// caching proxy.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jkuri/clef/pkg/server"
	"github.com/jkuri/clef/pkg/store"
	"github.com/jkuri/clef/pkg/types"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "registry",
		Usage: "npm-compatible private registry and caching proxy",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML config file"},
			&cli.BoolFlag{Name: "dev", Usage: "use human-readable development logging"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func run(c *cli.Context) error {
	var cfg types.ConfigFile
	if err := cfg.Load(c.String("config")); err != nil {
		return &startupError{kind: exitConfig, err: fmt.Errorf("load config: %w", err)}
	}

	logger, err := newLogger(c.Bool("dev"))
	if err != nil {
		return &startupError{kind: exitConfig, err: fmt.Errorf("init logger: %w", err)}
	}
	defer logger.Sync() //nolint:errcheck
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return &startupError{kind: exitDatabase, err: fmt.Errorf("open database: %w", err)}
	}
	defer db.Close()

	srv := server.New(cfg, db, sugar)
	sugar.Infow("starting registry", "host", cfg.Host, "port", cfg.Port, "upstream", cfg.UpstreamRegistry)

	if err := srv.Start(ctx); err != nil {
		return &startupError{kind: exitBind, err: fmt.Errorf("serve: %w", err)}
	}
	sugar.Info("shutdown complete")
	return nil
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// exitKind maps a startup failure to the process exit code spec.md §6
// assigns it: 1 for config or bind errors, 2 for database/migration
// failure, 0 on a clean shutdown.
type exitKind int

const (
	exitConfig exitKind = iota + 1
	exitBind
	exitDatabase
)

type startupError struct {
	kind exitKind
	err  error
}

func (e *startupError) Error() string { return e.err.Error() }
func (e *startupError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var se *startupError
	if errors.As(err, &se) && se.kind == exitDatabase {
		return 2
	}
	return 1
}
