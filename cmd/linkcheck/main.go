package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"linkcheck/internal/api"
	"linkcheck/internal/checker"
	"linkcheck/internal/config"
	"linkcheck/internal/httpcheck"
	"linkcheck/internal/storage"
	"linkcheck/internal/storage/postgres"
	"linkcheck/internal/storage/sqlite"
)

// errInvalidLinks makes the process exit with status 1 after printing results.
var errInvalidLinks = errors.New("one or more links are invalid")

func main() {
	err := run(os.Args[1:], os.Stdin, os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, errInvalidLinks):
		os.Exit(1)
	case errors.Is(err, pflag.ErrHelp):
		os.Exit(0)
	default:
		log.Fatalf("linkcheck: %v", err)
	}
}

type options struct {
	configFile string
	userAgent  string
	robots     bool
	promptAuth bool
	timeout    time.Duration
}

func newFlagSet(opts *options, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("linkcheck", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.configFile, "config", "c", "", "YAML file with proxies and credentials (default $CONFIG_FILE)")
	fs.StringVar(&opts.userAgent, "user-agent", "", "User-Agent sent with every request (default $USER_AGENT)")
	fs.BoolVar(&opts.robots, "robots", true, "honour robots.txt before checking a link")
	fs.BoolVar(&opts.promptAuth, "prompt-auth", false, "ask for a username and password when a server answers 401")
	fs.DurationVar(&opts.timeout, "timeout", 0, "time limit for one link check (default $HTTP_TIMEOUT)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage:\n  linkcheck [flags] URL...\n  linkcheck [flags] serve\n\nFlags:\n")
		fs.PrintDefaults()
	}
	return fs
}

// loadConfig resolves the configuration: environment, then the YAML file,
// then explicitly set flags.
func loadConfig(fs *pflag.FlagSet, opts *options) (*config.Config, error) {
	cfg := config.Load()

	path := cfg.ConfigFile
	if fs.Changed("config") {
		path = opts.configFile
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if fs.Changed("user-agent") {
		cfg.UserAgent = opts.userAgent
	}
	if fs.Changed("robots") {
		cfg.RobotsTxt = opts.robots
	}
	if fs.Changed("timeout") {
		cfg.HTTPTimeout = opts.timeout
	}
	return cfg, nil
}

func run(args []string, stdin *os.File, stdout io.Writer) error {
	var opts options
	fs := newFlagSet(&opts, os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(fs, &opts)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel, os.Stderr)

	var creds httpcheck.CredentialSource
	if static := cfg.StaticCredentials(); static != nil {
		creds = static
	}
	if opts.promptAuth {
		creds = chainCredentials(creds, newTerminalPrompt(stdin, os.Stderr))
	}
	runner := buildChecker(cfg, creds)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	urls := fs.Args()
	if len(urls) == 1 && urls[0] == "serve" {
		return serve(ctx, cfg, runner)
	}
	if len(urls) == 0 {
		fs.Usage()
		return errors.New("no URLs given")
	}
	return checkURLs(ctx, cfg, runner, urls, stdout)
}

// setupLogging installs a text slog handler as the default. The standard
// log package used by the service layers writes through it too.
func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}

func buildChecker(cfg *config.Config, creds httpcheck.CredentialSource) *httpcheck.Checker {
	var robots httpcheck.PolicySource
	if cfg.RobotsTxt {
		robots = httpcheck.NewRobotsCache(httpcheck.NewHTTPRobotsFetcher(cfg.UserAgent, cfg.Proxies, cfg.HTTPTimeout))
	}
	return httpcheck.NewChecker(
		httpcheck.Config{
			Proxies:     cfg.Proxies,
			RobotsTxt:   cfg.RobotsTxt,
			UserAgent:   cfg.UserAgent,
			Credentials: creds,
		},
		httpcheck.NewExecutor(cfg.UserAgent, cfg.TLSInsecure),
		robots,
	)
}

// checkURLs checks every URL, at most MaxConcurrency at a time, and prints
// the results in argument order.
func checkURLs(ctx context.Context, cfg *config.Config, runner checker.Runner, urls []string, stdout io.Writer) error {
	results := make([]*httpcheck.Result, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.MaxConcurrency, 1))
	for i, u := range urls {
		g.Go(func() error {
			checkCtx := gctx
			if cfg.HTTPTimeout > 0 {
				var cancel context.CancelFunc
				checkCtx, cancel = context.WithTimeout(gctx, cfg.HTTPTimeout)
				defer cancel()
			}
			results[i] = runner.Run(checkCtx, u)
			return nil
		})
	}
	_ = g.Wait()

	invalid := 0
	for _, res := range results {
		printResult(stdout, res)
		if !res.Valid() {
			invalid++
		}
	}
	if invalid > 0 {
		return errInvalidLinks
	}
	return nil
}

func printResult(w io.Writer, res *httpcheck.Result) {
	fmt.Fprintf(w, "%s\n  %s: %s\n", res.URL, res.Verdict, res.Message)
	for _, warning := range res.Warnings {
		if warning == res.Message {
			continue
		}
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}

type closableStore interface {
	storage.Storer
	Close() error
}

func openStore(ctx context.Context, cfg *config.Config) (closableStore, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		log.Println("initializing SQLite database connection...")
		return sqlite.New(ctx, cfg.DatabaseURL)
	case "postgres", "postgresql":
		log.Println("initializing PostgreSQL connection pool...")
		return postgres.New(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
}

// serve runs the scheduler and the API until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, runner checker.Runner) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()
	log.Println("database connection successful")

	checkerSvc := checker.New(store, runner, checker.Options{
		Interval:       cfg.CheckInterval,
		MaxConcurrency: cfg.MaxConcurrency,
		MaxPerHost:     cfg.MaxPerHost,
		CheckTimeout:   cfg.HTTPTimeout,
		RateLimit:      cfg.RateLimit,
	})
	server := api.NewServer(cfg.HTTPPort, store, runner)

	checkerSvc.Start()
	serverErr := server.Start()

	log.Println("application is running...")

	select {
	case <-ctx.Done():
		log.Println("shutdown signal received, starting graceful shutdown...")
	case err := <-serverErr:
		if err != nil {
			checkerSvc.Stop()
			return fmt.Errorf("could not start HTTP server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	// Stop the checker first to prevent new checks from starting.
	checkerSvc.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown error: %w", err)
	}
	log.Println("application shut down gracefully")
	return nil
}
