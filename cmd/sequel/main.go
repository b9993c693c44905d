// Command sequel is a read-only browser for Google Cloud resources. It
// lists projects and the resources inside them, caching API responses
// so repeated queries stay fast and cheap.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	sequel "github.com/dan-elliott-appneta/sequel"
	"github.com/dan-elliott-appneta/sequel/cache"
	"github.com/dan-elliott-appneta/sequel/credentials"
	"github.com/dan-elliott-appneta/sequel/gcloud"
	"github.com/dan-elliott-appneta/sequel/retry"
	"github.com/dan-elliott-appneta/sequel/settings"
	"github.com/dan-elliott-appneta/sequel/state"
	"github.com/dan-elliott-appneta/sequel/telemetry"
)

var version = "dev"

type cli struct {
	LogLevel  string `help:"Log level." enum:"debug,info,warn,error" default:"info"`
	LogFormat string `help:"Log format." enum:"auto,text,json" default:"auto"`

	AccessToken string `help:"Static OAuth access token. When unset the gcloud CLI is used." env:"GOOGLE_OAUTH_ACCESS_TOKEN"`

	CacheMaxSize  int64         `help:"Maximum cache size in bytes." default:"104857600"`
	ProjectTTL    time.Duration `name:"cache-ttl-projects" help:"Cache TTL for project listings." default:"10m"`
	ResourceTTL   time.Duration `name:"cache-ttl-resources" help:"Cache TTL for resource listings." default:"5m"`
	SweepInterval time.Duration `help:"How often expired cache entries are swept." default:"5m"`

	MaxAttempts       int           `help:"Attempts per API call." default:"3"`
	BaseDelay         time.Duration `help:"Initial retry backoff." default:"1s"`
	BackoffMultiplier float64       `help:"Backoff growth factor." default:"2.0"`
	Timeout           time.Duration `help:"Per-attempt request timeout." default:"30s"`
	QuotaWait         time.Duration `help:"Wait after a quota error without a server hint." default:"60s"`

	MetricsAddr  string `help:"Serve Prometheus metrics on this address (e.g. :9090)." default:""`
	SettingsPath string `help:"Settings database path. Defaults to the user config dir." default:""`

	Projects  projectsCmd  `cmd:"" help:"List accessible projects."`
	Resources resourcesCmd `cmd:"" help:"List resources in a project."`
	Children  childrenCmd  `cmd:"" help:"List the child resources of a parent, such as the instances of a group."`
	Pin       pinCmd       `cmd:"" help:"Pin a project to the top of listings."`
	Unpin     unpinCmd     `cmd:"" help:"Remove a project from the pinned set."`
	Use       useCmd       `cmd:"" help:"Set the default project."`

	Version kong.VersionFlag `help:"Print version and exit."`
}

// appContext carries the wired components into command Run methods.
type appContext struct {
	ctx      context.Context
	logger   *slog.Logger
	client   *gcloud.Client
	state    *state.Store
	settings *settings.Store
	stdout   io.Writer
}

// kongOptions are the parser options shared by main and the tests. Every
// flag is also bound to a SEQUEL_* environment variable.
func kongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("sequel"),
		kong.Description("Browse Google Cloud resources from the terminal."),
		kong.UsageOnError(),
		kong.DefaultEnvars("SEQUEL"),
		kong.Vars{"version": version},
	}
}

func main() {
	var flags cli
	parser := kong.Parse(&flags, kongOptions()...)

	if err := run(parser, &flags); err != nil {
		fmt.Fprintf(os.Stderr, "sequel: %v\n", err)
		os.Exit(1)
	}
}

func run(parser *kong.Context, flags *cli) error {
	logger := newLogger(flags.LogLevel, flags.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "sequel",
		ServiceVersion:   version,
		EnablePrometheus: flags.MetricsAddr != "",
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(shutdownCtx)
	}()

	if flags.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.PrometheusHandler())
		srv := &http.Server{Addr: flags.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
		defer func() { _ = srv.Close() }()
		logger.Debug("serving metrics", "addr", flags.MetricsAddr)
	}

	resultCache := cache.New(cache.Config{
		MaxSize: flags.CacheMaxSize,
		Logger:  logger,
	})
	sweeper := cache.NewSweeper(resultCache, cache.Config{
		SweepInterval: flags.SweepInterval,
		Logger:        logger,
	})
	sweeper.Start(ctx)
	defer sweeper.Stop()

	var creds credentials.Provider
	if flags.AccessToken != "" {
		creds = credentials.Static(flags.AccessToken)
	} else {
		creds = credentials.NewCommandProvider(nil, logger)
	}

	executor := retry.New(retry.Config{
		MaxAttempts:        flags.MaxAttempts,
		BaseDelay:          flags.BaseDelay,
		Multiplier:         flags.BackoffMultiplier,
		Timeout:            flags.Timeout,
		QuotaWait:          flags.QuotaWait,
		RefreshCredentials: creds.Refresh,
		Logger:             logger,
	})

	client := gcloud.New(gcloud.Config{
		Credentials: creds,
		Cache:       resultCache,
		Retry:       executor,
		Logger:      logger,
		ProjectTTL:  flags.ProjectTTL,
		ResourceTTL: flags.ResourceTTL,
	})

	settingsPath := flags.SettingsPath
	if settingsPath == "" {
		settingsPath, err = settings.DefaultPath()
		if err != nil {
			return err
		}
	}
	settingsStore := settings.NewStore(settings.WithLogger(logger))
	if err := settingsStore.Open(settingsPath); err != nil {
		return err
	}
	defer func() { _ = settingsStore.Close() }()

	app := &appContext{
		ctx:    ctx,
		logger: logger,
		client: client,
		state: state.New(state.Config{
			Client: client,
			Logger: logger,
		}),
		settings: settingsStore,
		stdout:   os.Stdout,
	}

	return parser.Run(app)
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	if format == "auto" {
		if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			format = "text"
		} else {
			format = "json"
		}
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	default:
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		})
	}
	return slog.New(handler)
}

type projectsCmd struct {
	Refresh bool `help:"Bypass the cache and re-fetch."`
}

func (cmd *projectsCmd) Run(app *appContext) error {
	prefs, err := app.settings.Load()
	if err != nil {
		return err
	}

	res, err := app.state.LoadProjects(app.ctx, cmd.Refresh)
	if err != nil {
		return err
	}

	projects := res.Resources
	sort.SliceStable(projects, func(i, j int) bool {
		pi, pj := prefs.Pinned(projects[i].Project), prefs.Pinned(projects[j].Project)
		if pi != pj {
			return pi
		}
		return projects[i].Project < projects[j].Project
	})

	w := tabwriter.NewWriter(app.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tNUMBER\tSTATUS\t")
	for _, p := range projects {
		id := p.Project
		if prefs.Pinned(p.Project) {
			id = "* " + id
		}
		if p.Project == prefs.DefaultProject {
			id += " (default)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", id, p.Extra["number"], p.Status)
	}
	return w.Flush()
}

type resourcesCmd struct {
	Project string `arg:"" optional:"" help:"Project ID. Defaults to the project set with 'use'."`
	Kind    string `help:"Only list one resource kind."`
	Refresh bool   `help:"Bypass the cache and re-fetch."`
	Stats   bool   `help:"Print cache statistics after listing."`
}

func (cmd *resourcesCmd) Run(app *appContext) error {
	project := cmd.Project
	if project == "" {
		prefs, err := app.settings.Load()
		if err != nil {
			return err
		}
		project = prefs.DefaultProject
	}
	if project == "" {
		return fmt.Errorf("no project given and no default set (see 'sequel use')")
	}

	results, err := app.state.LoadProject(app.ctx, project, cmd.Refresh)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(app.stdout, 0, 4, 2, ' ', 0)
	for _, kind := range sequel.Kinds {
		res, ok := results[kind]
		if !ok {
			continue
		}
		if cmd.Kind != "" && string(kind) != cmd.Kind {
			continue
		}

		if res.Err != nil {
			fmt.Fprintf(w, "%s\t-\t%v\t\n", kind, res.Err)
			continue
		}
		for _, r := range res.Resources {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", r.Kind, r.Name, r.Location, r.Status)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if cmd.Stats {
		stats := app.client.CacheStats()
		fmt.Fprintf(app.stdout, "\ncache: %d entries, %d bytes, %.0f%% hit rate (%d hits, %d misses, %d evictions, %d expirations)\n",
			stats.Entries, stats.Bytes, stats.HitRate()*100,
			stats.Hits, stats.Misses, stats.Evictions, stats.Expirations)
	}
	return nil
}

type childrenCmd struct {
	Project  string `arg:"" help:"Project ID."`
	Kind     string `arg:"" enum:"instance-group,gke-cluster,dns-zone" help:"Parent resource kind."`
	Name     string `arg:"" help:"Parent resource name."`
	Location string `help:"Zone or region of the parent, for zonal parents."`
}

func (cmd *childrenCmd) Run(app *appContext) error {
	parent := sequel.Resource{
		Kind:     sequel.Kind(cmd.Kind),
		Name:     cmd.Name,
		Project:  cmd.Project,
		Location: cmd.Location,
	}

	res, err := app.state.LoadChildren(app.ctx, parent)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(app.stdout, 0, 4, 2, ' ', 0)
	for _, r := range res.Resources {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", r.Kind, r.Name, r.Location, r.Status)
	}
	return w.Flush()
}

type pinCmd struct {
	Project string `arg:"" help:"Project ID to pin."`
}

func (cmd *pinCmd) Run(app *appContext) error {
	return app.settings.Update(func(s *settings.Settings) error {
		s.Pin(cmd.Project)
		return nil
	})
}

type unpinCmd struct {
	Project string `arg:"" help:"Project ID to unpin."`
}

func (cmd *unpinCmd) Run(app *appContext) error {
	return app.settings.Update(func(s *settings.Settings) error {
		s.Unpin(cmd.Project)
		return nil
	})
}

type useCmd struct {
	Project string `arg:"" help:"Project ID to use as the default."`
}

func (cmd *useCmd) Run(app *appContext) error {
	return app.settings.Update(func(s *settings.Settings) error {
		s.DefaultProject = cmd.Project
		return nil
	})
}
