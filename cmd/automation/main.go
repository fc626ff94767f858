package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"testnet-automation/pkg/automation"
	"testnet-automation/pkg/config"
	"testnet-automation/pkg/runner"
	"testnet-automation/pkg/telemetry"

	"github.com/briandowns/spinner"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

var (
	optionConfig = &cli.StringFlag{
		Name:    "config",
		Usage:   "path to config file, defaults to config.yaml, config.yml or config.json in the working directory",
		EnvVars: []string{"TESTNET_AUTOMATION_CONFIG"},
	}
	optionKeys = &cli.StringFlag{
		Name:    "keys",
		Usage:   "file with one private key per line",
		Value:   "pk.txt",
		EnvVars: []string{"TESTNET_AUTOMATION_KEYS"},
	}
	optionProxies = &cli.StringFlag{
		Name:    "proxies",
		Usage:   "file with one proxy URI per line, optional",
		Value:   "proxy.txt",
		EnvVars: []string{"TESTNET_AUTOMATION_PROXIES"},
	}
	optionLogLevel = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "overrides log_level from the config file",
		EnvVars: []string{"LOG_LEVEL"},
	}
	optionMetricsAddr = &cli.StringFlag{
		Name:    "metrics-addr",
		Usage:   "address to serve prometheus metrics on, overrides metrics.listen_addr",
		EnvVars: []string{"TESTNET_AUTOMATION_METRICS_ADDR"},
	}
	optionDDAPIKey = &cli.StringFlag{
		Name:    "dd-api-key",
		Usage:   "datadog API key",
		EnvVars: []string{"DD_API_KEY"},
	}
	optionDDAppKey = &cli.StringFlag{
		Name:    "dd-app-key",
		Usage:   "datadog application key",
		EnvVars: []string{"DD_APP_KEY"},
	}
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "testnet-automation",
		Usage: "Cycles wallets through self-transfers and Sepolia/Ithaca bridging",
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Run wallet cycles until interrupted",
				Flags: []cli.Flag{
					optionConfig,
					optionKeys,
					optionProxies,
					optionLogLevel,
					optionMetricsAddr,
					optionDDAPIKey,
					optionDDAppKey,
				},
				Action: func(c *cli.Context) error {
					return start(c)
				},
			},
		}}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.Writer, "exited with error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(logLevel string) {
	if logLevel == "" {
		logLevel = "info"
	}
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse log level")
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	zerolog.DefaultContextLogger = &log.Logger
}

func start(c *cli.Context) error {
	setupLogging(c.String(optionLogLevel.Name))

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metrics settings are read once. Everything else is reloaded per cycle.
	cfg, err := config.Load(c.String(optionConfig.Name), ".")
	if err != nil {
		return err
	}
	recorder := telemetry.New(prometheus.NewRegistry())
	ddAPIKey, ddAppKey := c.String(optionDDAPIKey.Name), c.String(optionDDAppKey.Name)
	if ddAPIKey == "" {
		ddAPIKey, ddAppKey = cfg.Metrics.Datadog.APIKey, cfg.Metrics.Datadog.AppKey
	}
	recorder = recorder.WithDatadog(ddAPIKey, ddAppKey, cfg.Metrics.Datadog.Tags)
	metricsAddr := c.String(optionMetricsAddr.Name)
	if metricsAddr == "" {
		metricsAddr = cfg.Metrics.ListenAddr
	}
	recorder.Serve(ctx, metricsAddr)

	a := automation.New(automation.Options{
		ConfigPath:  c.String(optionConfig.Name),
		ConfigDir:   ".",
		KeysPath:    c.String(optionKeys.Name),
		ProxiesPath: c.String(optionProxies.Name),
		LogLevel:    c.String(optionLogLevel.Name),
		Recorder:    recorder,
	})
	defer a.Close()

	r := runner.NewRunner(runner.Options{
		Planner:  a.Plan,
		Recorder: recorder,
		Cooldown: countdown,
	})

	log.Info().Msg("starting wallet automation")
	if err := r.Run(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "shutting down...\n")
	return nil
}

// countdown waits out the cooldown between cycles behind a terminal
// spinner showing the time left.
func countdown(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	log.Info().Str("cooldown", d.String()).Msg("cycle complete, waiting for next cycle")

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	deadline := time.Now().Add(d)
	s.Suffix = fmt.Sprintf(" next cycle in %s", d.Round(time.Second))
	s.Start()
	defer s.Stop()

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-tick.C:
			s.Lock()
			s.Suffix = fmt.Sprintf(" next cycle in %s", time.Until(deadline).Round(time.Second))
			s.Unlock()
		}
	}
}
