// Command conduit previews the rows of configured chains, or serves the
// preview API.
//
//	conduit --config conduit.yml --chain pages --limit 20
//	conduit --config conduit.yml --serve
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kbukum/conduit/api"
	"github.com/kbukum/conduit/bootstrap"
	"github.com/kbukum/conduit/cachestore"
	"github.com/kbukum/conduit/component"
	"github.com/kbukum/conduit/config"
	"github.com/kbukum/conduit/job"
	"github.com/kbukum/conduit/logger"
	"github.com/kbukum/conduit/observability"
	"github.com/kbukum/conduit/server"
	"github.com/kbukum/conduit/version"
)

type options struct {
	configFile string
	envFile    string
	chain      string
	limit      int
	serve      bool
	noProgress bool
	version    bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&o.configFile, "config", "c", "", "config file (default: searched as conduit.yml, config.yml, ...)")
	fs.StringVar(&o.envFile, "env-file", "", "dotenv file loaded before CONDUIT_ overrides")
	fs.StringVar(&o.chain, "chain", "", "chain to preview")
	fs.IntVarP(&o.limit, "limit", "n", 20, "rows to preview, 0 for all")
	fs.BoolVar(&o.serve, "serve", false, "serve the preview API until interrupted")
	fs.BoolVar(&o.noProgress, "no-progress", false, "do not draw a progress bar")
	fs.BoolVar(&o.version, "version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.limit < 0 {
		return o, fmt.Errorf("--limit must be >= 0")
	}
	if !o.version && !o.serve && o.chain == "" {
		return o, fmt.Errorf("one of --chain or --serve is required")
	}
	return o, nil
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		_, _ = red.Fprintf(os.Stderr, "conduit: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.version {
		_, err := fmt.Fprintln(stdout, version.Get())
		return err
	}

	var cfg Config
	loadOpts := []config.LoaderOption{}
	if o.configFile != "" {
		loadOpts = append(loadOpts, config.WithConfigFile(o.configFile))
	}
	if o.envFile != "" {
		loadOpts = append(loadOpts, config.WithEnvFile(o.envFile))
	}
	if err := config.LoadConfig(serviceName, &cfg, loadOpts...); err != nil {
		return err
	}
	if cfg.Version == "" {
		cfg.Version = version.Get().Short()
	}

	app, err := bootstrap.NewApp(&cfg, bootstrap.WithSummaryOutput(stderr))
	if err != nil {
		return err
	}
	chains, err := wire(app, o)
	if err != nil {
		return err
	}

	if o.serve {
		if o.chain != "" {
			app.OnReady(func(ctx context.Context) error {
				return preview(ctx, app.Logger, chains, o, stdout, stderr)
			})
		}
		return app.Run(ctx)
	}
	return app.RunTask(ctx, func(ctx context.Context) error {
		return preview(ctx, app.Logger, chains, o, stdout, stderr)
	})
}

// wire registers the components: the cache store, the chains built on it
// and, when serving, the HTTP server with the preview API.
func wire(app *bootstrap.App[*Config], o options) (*chainsComponent, error) {
	cfg := app.Cfg
	store := cachestore.NewComponent(cfg.Cache, app.Logger)
	chains := newChainsComponent(cfg, store, app.Logger)
	comps := []component.Component{store, chains}

	if o.serve {
		srv := server.New(cfg.Server, app.Logger)
		srv.ApplyDefaults(serviceName, app.Components.HealthAll)
		api.NewHandler(chains, app.Logger).Register(srv.GinEngine())
		comps = append(comps, server.NewComponent(srv))
	}
	for _, c := range comps {
		if err := app.RegisterComponent(c); err != nil {
			return nil, err
		}
	}

	var shutdownTelemetry func(context.Context) error
	app.OnStart(func(ctx context.Context) error {
		var err error
		shutdownTelemetry, err = observability.Setup(ctx, cfg.Observability)
		return err
	})
	app.OnStop(func(ctx context.Context) error {
		if shutdownTelemetry == nil {
			return nil
		}
		return shutdownTelemetry(ctx)
	})
	app.OnConfigure(func(context.Context, *bootstrap.App[*Config]) error {
		if o.chain != "" {
			if _, err := chains.Get(o.chain); err != nil {
				return err
			}
		}
		return nil
	})
	return chains, nil
}

// preview collects the chain's first rows under a user-initiated job tied to
// ctx and prints them.
func preview(ctx context.Context, log *logger.Logger, chains api.Chains, o options, stdout, stderr io.Writer) error {
	ch, err := chains.Get(o.chain)
	if err != nil {
		return err
	}

	j := job.NewWithContext(ctx, job.PriorityUserInitiated)
	defer j.Cancel()
	log = log.WithJob(j.ID().String()).WithFields(logger.Fields(logger.FieldChain, o.chain))

	var bar *progressObserver
	if !o.noProgress {
		bar = newProgressObserver(stderr, o.chain)
		j.AddObserver(bar)
		defer j.RemoveObserver(bar)
	}

	start := time.Now()
	r, err := ch.Preview(j, o.limit)
	if bar != nil {
		bar.finish()
	}
	if err != nil {
		return err
	}
	log.Debug("Preview finished", logger.Fields(logger.FieldRows, r.Len(), logger.FieldDuration, time.Since(start).Milliseconds()))
	return renderPreview(stdout, o.chain, r)
}
